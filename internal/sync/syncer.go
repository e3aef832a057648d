// Package syncer mirrors local clipboard history to a shared remote store.
//
// A pass pulls every mirror envelope, reconciles it against the local row with
// the same id, then propagates local deletions and uploads new records while
// the tier's sync ceiling allows. Every local change goes through the dedup
// engine and the store, so sync is bound by the same capacity rules as capture.
// Re-running a pass against unchanged state changes nothing.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hpungsan/clipkeep/internal/clip"
	"github.com/hpungsan/clipkeep/internal/dedup"
	"github.com/hpungsan/clipkeep/internal/logging"
	"github.com/hpungsan/clipkeep/internal/store"
	"github.com/hpungsan/clipkeep/internal/tier"
	"github.com/hpungsan/clipkeep/internal/vault"
)

// SyncReport summarizes one pass. Errors are per-record or per-pass failures;
// they never abort the remaining records.
type SyncReport struct {
	Uploaded      int      `json:"uploaded"`
	Downloaded    int      `json:"downloaded"`
	DeletedRemote int      `json:"deleted_remote"`
	DeletedLocal  int      `json:"deleted_local"`
	Conflicts     int      `json:"conflicts"`
	Skipped       int      `json:"skipped"`
	QuotaExceeded bool     `json:"quota_exceeded"`
	Errors        []string `json:"errors,omitempty"`
}

// Empty reports whether the pass changed nothing on either side. Skipped
// counts standing conditions (a blob over the tier's file cap, a record older
// than everything kept, content already held under another id) that recur
// unchanged every pass, so like a reached quota it is not a change.
func (r SyncReport) Empty() bool {
	return r.Uploaded == 0 && r.Downloaded == 0 && r.DeletedRemote == 0 &&
		r.DeletedLocal == 0 && r.Conflicts == 0 && len(r.Errors) == 0
}

func (r *SyncReport) fail(what string, err error) {
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", what, err))
}

// Options configures a Reconciler.
type Options struct {
	// Passphrase derives the mirror key together with the remote salt.
	Passphrase string
	KeyParams  vault.Params

	Interval   time.Duration
	RatePerSec int

	Limits tier.Limits
	Logger *slog.Logger
}

// Reconciler runs sync passes. Passes are serialized: a manual SyncNow waits
// for a scheduled pass in progress and vice versa.
type Reconciler struct {
	mu sync.Mutex

	store   *store.Store
	engine  *dedup.Engine
	remote  Remote
	opts    Options
	limits  tier.Limits
	limiter *rate.Limiter
	log     *slog.Logger

	key *vault.Vault
}

// New returns a reconciler between s (written through e) and remote.
func New(s *store.Store, e *dedup.Engine, remote Remote, opts Options) *Reconciler {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 10
	}
	if opts.KeyParams == (vault.Params{}) {
		opts.KeyParams = vault.DefaultParams
	}
	r := &Reconciler{
		store:   s,
		engine:  e,
		remote:  remote,
		opts:    opts,
		limits:  opts.Limits,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.RatePerSec),
		log:     opts.Logger,
	}
	if r.limits == nil {
		r.limits = tier.FreeLimits
	}
	if r.log == nil {
		r.log = logging.For("sync")
	}
	return r
}

// Run performs a pass every interval until ctx is cancelled. Failed passes are
// retried on the next tick. Cancellation is observed between passes and
// between records; a record already being written completes.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	r.log.Info("sync started", "interval", r.opts.Interval)
	for {
		rep := r.Pass(ctx)
		r.logReport(rep)
		select {
		case <-ctx.Done():
			r.log.Info("sync stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// SyncNow runs one pass immediately.
func (r *Reconciler) SyncNow(ctx context.Context) SyncReport {
	rep := r.Pass(ctx)
	r.logReport(rep)
	return rep
}

func (r *Reconciler) logReport(rep SyncReport) {
	if rep.Empty() && !rep.QuotaExceeded {
		r.log.Debug("sync pass: no changes", "skipped", rep.Skipped)
		return
	}
	r.log.Info("sync pass",
		"uploaded", rep.Uploaded, "downloaded", rep.Downloaded,
		"deleted_remote", rep.DeletedRemote, "deleted_local", rep.DeletedLocal,
		"conflicts", rep.Conflicts, "skipped", rep.Skipped,
		"quota_exceeded", rep.QuotaExceeded, "errors", len(rep.Errors))
}

// Pass reconciles local and remote state once.
func (r *Reconciler) Pass(ctx context.Context) SyncReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	var rep SyncReport

	// The tier may have shrunk since the last pass.
	if _, err := r.store.EnforceCapacity(ctx); err != nil {
		rep.fail("enforce capacity", err)
	}

	key, err := r.syncKey(ctx)
	if err != nil {
		rep.fail("sync key", err)
		return rep
	}
	envs, err := r.remote.Pull(ctx)
	if err != nil {
		rep.fail("pull", err)
		return rep
	}
	local, err := r.store.ForSync(ctx)
	if err != nil {
		rep.fail("read local", err)
		return rep
	}

	localByID := make(map[string]*store.SyncRecord, len(local))
	for i := range local {
		localByID[local[i].ID] = &local[i]
	}
	remoteByID := make(map[string]*Envelope, len(envs))
	for i := range envs {
		remoteByID[envs[i].ID] = &envs[i]
	}

	for i := range envs {
		if ctx.Err() != nil {
			return rep
		}
		r.reconcile(ctx, key, &envs[i], localByID[envs[i].ID], &rep)
	}

	// Downloads and conflict losers changed the local side; re-read it.
	local, err = r.store.ForSync(ctx)
	if err != nil {
		rep.fail("read local", err)
		return rep
	}
	r.propagateDeletes(ctx, local, remoteByID, &rep)
	r.upload(ctx, key, local, remoteByID, &rep)
	return rep
}

func (r *Reconciler) syncKey(ctx context.Context) (*vault.Vault, error) {
	if r.key != nil {
		return r.key, nil
	}
	key, err := syncKey(ctx, r.remote, r.opts.Passphrase, r.opts.KeyParams)
	if err != nil {
		return nil, err
	}
	r.key = key
	return key, nil
}

// reconcile applies one remote envelope to the local side.
func (r *Reconciler) reconcile(ctx context.Context, key *vault.Vault, env *Envelope, loc *store.SyncRecord, rep *SyncReport) {
	switch {
	case env.Deleted:
		if loc == nil {
			return
		}
		if !loc.Deleted {
			if err := r.store.Delete(ctx, loc.ID); err != nil {
				rep.fail("delete "+loc.ID, err)
				return
			}
			rep.DeletedLocal++
		}
		if err := r.store.HardDelete(ctx, loc.ID); err != nil {
			rep.fail("hard delete "+loc.ID, err)
		}
		return

	case loc == nil:
		r.download(ctx, key, env, rep)
		return

	case loc.Deleted:
		// Propagated after this loop.
		return
	}

	remote, blobData, err := open(key, env)
	if err != nil {
		rep.fail("open "+env.ID, err)
		return
	}

	if remote.Fingerprint == loc.Fingerprint {
		switch {
		case env.Created > loc.Created:
			// Bumped on another device.
			if err := r.store.Bump(ctx, loc.ID, env.Created); err != nil {
				rep.fail("bump "+loc.ID, err)
				return
			}
			r.markSynced(ctx, loc.ID, rep)
			rep.Downloaded++
		case env.Created < loc.Created:
			if r.push(ctx, key, &loc.Record, rep) {
				rep.Uploaded++
			}
		default:
			if loc.SyncState != clip.SyncSynced {
				r.markSynced(ctx, loc.ID, rep)
			}
		}
		return
	}

	r.resolveConflict(ctx, key, env, remote, blobData, loc, rep)
}

// resolveConflict settles a record changed on both sides: the newer created
// time wins the id, and the loser is kept locally as a separate record. The
// loser's id is derived from the conflicted id and its content, so every
// device keeps it under the same id and the mirror holds one copy.
func (r *Reconciler) resolveConflict(ctx context.Context, key *vault.Vault, env *Envelope, remote *clip.Record, remoteBlob []byte, loc *store.SyncRecord, rep *SyncReport) {
	rep.Conflicts++
	if err := r.store.SetSyncState(ctx, loc.ID, clip.SyncConflict); err != nil {
		rep.fail("mark conflict "+loc.ID, err)
		return
	}

	remoteWins := env.Created > loc.Created ||
		(env.Created == loc.Created && env.Origin > loc.Origin)

	if remoteWins {
		loserBlob, err := r.localBlob(&loc.Record)
		if err != nil {
			rep.fail("read blob "+loc.ID, err)
			return
		}
		loser, err := loserCopy(&loc.Record, loc.ID)
		if err != nil {
			rep.fail("conflict loser id", err)
			return
		}
		remote.SyncState = clip.SyncSynced
		// One transaction: the local content is never replaced without its copy.
		if _, err := r.engine.Replace(ctx, remote, remoteBlob, loser, loserBlob); err != nil {
			rep.fail("replace "+loc.ID, err)
		}
		return
	}

	// Keep the remote copy before the push overwrites it on the mirror.
	if !r.keepLoser(ctx, remote, remoteBlob, loc.ID, rep) {
		return
	}
	if r.push(ctx, key, &loc.Record, rep) {
		rep.Uploaded++
	}
}

// loserCopy returns loser as a new unpinned local record with an id derived
// from the conflicted id and the loser's content.
func loserCopy(loser *clip.Record, conflictedID string) (*clip.Record, error) {
	id, err := clip.DerivedID(time.UnixMilli(loser.Created), conflictedID, loser.Fingerprint)
	if err != nil {
		return nil, err
	}
	cp := *loser
	cp.ID = id
	cp.Pinned = false
	cp.Deleted = false
	cp.DeletedAt = nil
	cp.SyncState = clip.SyncLocal
	return &cp, nil
}

// keepLoser stores the losing remote version. It reports whether the content
// is safe locally: inserted now, already stored under its derived id, or
// held by another live record.
func (r *Reconciler) keepLoser(ctx context.Context, loser *clip.Record, blobData []byte, conflictedID string, rep *SyncReport) bool {
	cp, err := loserCopy(loser, conflictedID)
	if err != nil {
		rep.fail("conflict loser id", err)
		return false
	}
	existing, err := r.store.Lookup(ctx, cp.ID)
	if err != nil {
		rep.fail("keep conflict loser", err)
		return false
	}
	if existing != nil {
		return true
	}
	if _, err := r.engine.Import(ctx, cp, blobData); err != nil {
		rep.fail("keep conflict loser", err)
		return false
	}
	return true
}

func (r *Reconciler) download(ctx context.Context, key *vault.Vault, env *Envelope, rep *SyncReport) {
	if limit := r.limits.MaxFileSyncBytes(); limit > 0 && uint64(len(env.Blob)) > limit {
		rep.Skipped++
		return
	}
	// Stored earlier in this pass as a conflict loser; the next pass
	// reconciles it like any other shared record.
	if existing, err := r.store.Lookup(ctx, env.ID); err != nil {
		rep.fail("lookup "+env.ID, err)
		return
	} else if existing != nil {
		return
	}

	rec, blobData, err := open(key, env)
	if err != nil {
		rep.fail("open "+env.ID, err)
		return
	}

	// A record older than everything we keep would be evicted on arrival.
	full, oldest, err := r.store.AtCapacity(ctx)
	if err != nil {
		rep.fail("capacity", err)
		return
	}
	if full && rec.Created <= oldest {
		rep.Skipped++
		return
	}

	rec.SyncState = clip.SyncSynced
	res, err := r.engine.Import(ctx, rec, blobData)
	if err != nil {
		rep.fail("import "+env.ID, err)
		return
	}
	if res.Outcome == dedup.Suppressed {
		rep.Skipped++
		return
	}
	rep.Downloaded++
}

// propagateDeletes tombstones user-deleted records on the mirror and then
// forgets them locally. Rows in the local state never reached the mirror and
// are left to the purge.
func (r *Reconciler) propagateDeletes(ctx context.Context, local []store.SyncRecord, remote map[string]*Envelope, rep *SyncReport) {
	for i := range local {
		rec := &local[i]
		if !rec.Deleted || rec.SyncState == clip.SyncLocal {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if env, ok := remote[rec.ID]; ok && !env.Deleted {
			if err := r.limiter.Wait(ctx); err != nil {
				return
			}
			at := r.store.Now()
			if rec.DeletedAt != nil {
				at = *rec.DeletedAt
			}
			if err := r.remote.Tombstone(ctx, rec.ID, at); err != nil {
				rep.fail("tombstone "+rec.ID, err)
				continue
			}
			env.Deleted = true
			rep.DeletedRemote++
		}
		if err := r.store.HardDelete(ctx, rec.ID); err != nil {
			rep.fail("hard delete "+rec.ID, err)
		}
	}
}

// upload pushes live records the mirror does not have, pinned first and then
// newest first, until the sync ceiling is reached.
func (r *Reconciler) upload(ctx context.Context, key *vault.Vault, local []store.SyncRecord, remote map[string]*Envelope, rep *SyncReport) {
	liveRemote := 0
	for _, env := range remote {
		if !env.Deleted {
			liveRemote++
		}
	}

	var pending []*store.SyncRecord
	for i := range local {
		rec := &local[i]
		if rec.Deleted || rec.Content == nil {
			continue
		}
		if _, ok := remote[rec.ID]; ok {
			continue
		}
		pending = append(pending, rec)
	}
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].Pinned != pending[j].Pinned {
			return pending[i].Pinned
		}
		return pending[i].Created > pending[j].Created
	})

	ceiling := int(r.limits.CurrentMaxSyncRecords())
	for _, rec := range pending {
		if ctx.Err() != nil {
			return
		}
		if liveRemote >= ceiling {
			rep.QuotaExceeded = true
			return
		}
		if !r.fitsSyncSize(&rec.Record) {
			rep.Skipped++
			continue
		}
		if r.push(ctx, key, &rec.Record, rep) {
			liveRemote++
			rep.Uploaded++
		}
	}
}

func (r *Reconciler) fitsSyncSize(rec *clip.Record) bool {
	limit := r.limits.MaxFileSyncBytes()
	if limit == 0 {
		return true
	}
	img, ok := rec.Content.(clip.Image)
	return !ok || uint64(img.Bytes) <= limit
}

// push seals and uploads one record, then marks it synced. It reports
// failures into rep and returns whether the upload happened.
func (r *Reconciler) push(ctx context.Context, key *vault.Vault, rec *clip.Record, rep *SyncReport) bool {
	blobData, err := r.localBlob(rec)
	if err != nil {
		rep.fail("read blob "+rec.ID, err)
		return false
	}
	env, err := seal(key, rec, blobData)
	if err != nil {
		rep.fail("seal "+rec.ID, err)
		return false
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return false
	}
	if err := r.remote.Push(ctx, *env); err != nil {
		rep.fail("push "+rec.ID, err)
		return false
	}
	r.markSynced(ctx, rec.ID, rep)
	return true
}

func (r *Reconciler) markSynced(ctx context.Context, id string, rep *SyncReport) {
	if err := r.store.SetSyncState(ctx, id, clip.SyncSynced); err != nil {
		rep.fail("mark synced "+id, err)
	}
}

func (r *Reconciler) localBlob(rec *clip.Record) ([]byte, error) {
	img, ok := rec.Content.(clip.Image)
	if !ok {
		return nil, nil
	}
	return r.store.Blob(img.BlobRef)
}

// payload is the sealed part of an envelope.
type payload struct {
	Type        clip.ContentType `json:"type"`
	Content     json.RawMessage  `json:"content"`
	Fingerprint string           `json:"fingerprint"`
}

func blobAD(id string) []byte { return []byte(id + "/blob") }

func seal(key *vault.Vault, rec *clip.Record, blobData []byte) (*Envelope, error) {
	content, err := clip.MarshalContent(rec.Content)
	if err != nil {
		return nil, err
	}
	plain, err := json.Marshal(payload{
		Type:        rec.Content.Kind(),
		Content:     content,
		Fingerprint: rec.Fingerprint,
	})
	if err != nil {
		return nil, err
	}
	sealed, err := key.Seal(plain, []byte(rec.ID))
	if err != nil {
		return nil, err
	}
	env := &Envelope{
		ID:      rec.ID,
		Payload: sealed,
		Created: rec.Created,
		Origin:  rec.Origin,
	}
	if blobData != nil {
		if env.Blob, err = key.Seal(blobData, blobAD(rec.ID)); err != nil {
			return nil, err
		}
	}
	return env, nil
}

func open(key *vault.Vault, env *Envelope) (*clip.Record, []byte, error) {
	plain, err := key.Unseal(env.Payload, []byte(env.ID))
	if err != nil {
		return nil, nil, err
	}
	var p payload
	if err := json.Unmarshal(plain, &p); err != nil {
		return nil, nil, fmt.Errorf("decode payload: %w", err)
	}
	content, err := clip.UnmarshalContent(p.Type, p.Content)
	if err != nil {
		return nil, nil, err
	}

	var blobData []byte
	if img, ok := content.(clip.Image); ok {
		if len(env.Blob) == 0 {
			return nil, nil, fmt.Errorf("image %s has no blob", env.ID)
		}
		if blobData, err = key.Unseal(env.Blob, blobAD(env.ID)); err != nil {
			return nil, nil, err
		}
		if clip.BlobRef(blobData) != img.BlobRef {
			return nil, nil, fmt.Errorf("image %s blob does not match its reference", env.ID)
		}
	}

	fp := p.Fingerprint
	if fp == "" {
		fp = clip.Fingerprint(content)
	}
	return &clip.Record{
		ID:          env.ID,
		Type:        content.Kind(),
		Content:     content,
		Fingerprint: fp,
		Created:     env.Created,
		Origin:      env.Origin,
	}, blobData, nil
}
