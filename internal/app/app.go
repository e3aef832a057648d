// Package app assembles the clipboard history service: it constructs every
// component once, owns their lifecycle, and is the only place that knows how
// they connect.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/hpungsan/clipkeep/internal/blob"
	"github.com/hpungsan/clipkeep/internal/config"
	"github.com/hpungsan/clipkeep/internal/db"
	"github.com/hpungsan/clipkeep/internal/dedup"
	"github.com/hpungsan/clipkeep/internal/logging"
	"github.com/hpungsan/clipkeep/internal/monitor"
	"github.com/hpungsan/clipkeep/internal/notify"
	"github.com/hpungsan/clipkeep/internal/paste"
	"github.com/hpungsan/clipkeep/internal/store"
	syncer "github.com/hpungsan/clipkeep/internal/sync"
	"github.com/hpungsan/clipkeep/internal/tier"
	"github.com/hpungsan/clipkeep/internal/vault"
)

// Options overrides the OS-facing collaborators. Zero values select the
// system clipboard, the configured tier and the configured remote.
type Options struct {
	Source   monitor.Source
	Sink     paste.Sink
	Injector paste.Injector
	Limits   tier.Limits
	Remote   syncer.Remote

	// Passphrase defaults to config.Passphrase(baseDir). Sync only runs with
	// an explicit passphrase, from here or the environment.
	Passphrase string
	KeyParams  vault.Params

	// PurgeInterval is how often soft-deleted records past the retention
	// window are purged while the app runs. Defaults to one hour.
	PurgeInterval time.Duration

	Now    func() time.Time
	Logger *slog.Logger
}

const defaultPurgeInterval = time.Hour

// App is the running service.
type App struct {
	BaseDir string
	Config  *config.Config
	DB      *sql.DB
	Store   *store.Store
	Engine  *dedup.Engine
	Broker  *notify.Broker
	Monitor *monitor.Monitor
	Paste   *paste.Dispatcher

	// Sync is nil when no remote is configured.
	Sync *syncer.Reconciler

	vault         *vault.Vault
	remote        syncer.Remote
	purgeInterval time.Duration
	log           *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New opens the store under baseDir and wires every component. It starts no
// background work; see Start.
func New(ctx context.Context, baseDir string, cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	log := opts.Logger
	if log == nil {
		log = logging.For("app")
	}
	explicitPass := opts.Passphrase != ""
	if !explicitPass {
		opts.Passphrase, explicitPass = config.Passphrase(baseDir)
		if !explicitPass {
			log.Warn("no passphrase set, using the machine fallback; set "+config.EnvPassphrase+" to protect history",
				"base_dir", baseDir)
		}
	}
	if opts.KeyParams == (vault.Params{}) {
		opts.KeyParams = vault.DefaultParams
	}
	if opts.Limits == nil {
		opts.Limits = tier.ForName(cfg.Tier)
	}
	clipboard := monitor.SystemClipboard{}
	if opts.Source == nil {
		opts.Source = clipboard
	}
	if opts.Sink == nil {
		opts.Sink = clipboard
	}
	if opts.Injector == nil {
		opts.Injector = paste.LogInjector{Logger: logging.For("paste")}
	}

	database, err := db.Init(baseDir)
	if err != nil {
		return nil, err
	}
	db.ConfigurePool(database, cfg)

	if opts.PurgeInterval <= 0 {
		opts.PurgeInterval = defaultPurgeInterval
	}
	a := &App{BaseDir: baseDir, Config: cfg, DB: database, purgeInterval: opts.PurgeInterval, log: log}
	ok := false
	defer func() {
		if !ok {
			a.closeResources()
		}
	}()

	a.vault, err = vault.Open(ctx, db.KeyringStore{DB: database}, opts.Passphrase, opts.KeyParams)
	if err != nil {
		return nil, err
	}
	blobs, err := blob.New(filepath.Join(baseDir, "blobs"), a.vault)
	if err != nil {
		return nil, err
	}

	a.Broker = notify.NewBroker()
	a.Store, err = store.Open(ctx, database, a.vault, blobs, store.Options{
		MaxRecords:  cfg.MaxRecords,
		BloomFPRate: cfg.BloomFPRate,
		Limits:      opts.Limits,
		Notifier:    a.Broker,
		Logger:      logging.For("store"),
		Now:         opts.Now,
	})
	if err != nil {
		return nil, err
	}

	a.Engine = dedup.New(a.Store, dedup.Options{
		Window: cfg.DedupWindow(),
		Origin: cfg.Origin,
		Logger: logging.For("dedup"),
	})

	a.Monitor = monitor.New(opts.Source, a.Engine, monitor.Options{
		PollInterval:   cfg.PollInterval(),
		ReadRetries:    cfg.ReadRetries,
		ReadRetryDelay: cfg.ReadRetryDelay(),
		SelfWriteGrace: cfg.SelfWriteGrace(),
		Logger:         logging.For("monitor"),
		Now:            opts.Now,
	})

	a.Paste = &paste.Dispatcher{
		Records:  a.Store,
		Sink:     opts.Sink,
		Injector: opts.Injector,
		Notes:    a.Monitor,
		Touch:    a.Engine,
		Logger:   logging.For("paste"),
	}

	a.remote = opts.Remote
	wantSync := a.remote != nil || cfg.RemoteDSN != ""
	if wantSync && !explicitPass {
		// The fallback is derivable from the host name, so it must not key
		// data that leaves this machine.
		log.Warn("sync disabled: remote needs an explicit passphrase", "env", config.EnvPassphrase)
	} else if a.remote == nil && cfg.RemoteDSN != "" {
		r, err := syncer.OpenRemote(cfg.RemoteDSN)
		if err != nil {
			// Sync is optional; the local history still works.
			log.Warn("sync disabled: remote unavailable", "error", err)
		} else {
			a.remote = r
		}
	}
	if a.remote != nil && explicitPass {
		a.Sync = syncer.New(a.Store, a.Engine, a.remote, syncer.Options{
			Passphrase: opts.Passphrase,
			KeyParams:  opts.KeyParams,
			Interval:   cfg.SyncInterval(),
			RatePerSec: cfg.SyncRatePerSec,
			Limits:     opts.Limits,
			Logger:     logging.For("sync"),
		})
	}

	ok = true
	return a, nil
}

// Start launches the monitor, the retention purge and, when configured, the
// sync reconciler, each on its own goroutine. They stop at their next
// iteration boundary when ctx is cancelled or Close is called.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return fmt.Errorf("app already started")
	}
	a.started = true

	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.Monitor.Run(ctx)
	}()
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.runPurge(ctx)
	}()
	if a.Sync != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			_ = a.Sync.Run(ctx)
		}()
	}
	return nil
}

// PurgeExpired hard-deletes soft-deleted records older than the configured
// retention. Records still owed to the sync mirror are kept.
func (a *App) PurgeExpired(ctx context.Context) (int, error) {
	n, err := a.Store.PurgeDeleted(ctx, a.Config.SoftDeleteRetention(), false)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		a.log.Info("purged expired records", "count", n)
	}
	return n, nil
}

// runPurge purges once at start, then every purgeInterval until ctx ends.
func (a *App) runPurge(ctx context.Context) {
	ticker := time.NewTicker(a.purgeInterval)
	defer ticker.Stop()
	for {
		if _, err := a.PurgeExpired(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn("retention purge failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until the background tasks have stopped.
func (a *App) Wait() {
	a.wg.Wait()
}

// Close stops background work, waits for in-flight writes, and releases the
// database and the key.
func (a *App) Close() error {
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Unlock()
	a.wg.Wait()
	return a.closeResources()
}

func (a *App) closeResources() error {
	if a.Broker != nil {
		a.Broker.Close()
	}
	if a.remote != nil {
		if err := a.remote.Close(); err != nil {
			a.log.Warn("close remote", "error", err)
		}
	}
	if a.vault != nil {
		a.vault.Destroy()
	}
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}
