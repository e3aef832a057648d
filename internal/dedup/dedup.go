// Package dedup is the single write funnel between capture and the store.
//
// A draft whose fingerprint matches a live record created within the dedup
// window refreshes that record (bump-to-top) instead of adding a duplicate.
// Local captures, re-pastes and sync downloads all commit through one Engine,
// whose mutex serializes the find-then-write decision.
package dedup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hpungsan/clipkeep/internal/classify"
	"github.com/hpungsan/clipkeep/internal/clip"
	"github.com/hpungsan/clipkeep/internal/errors"
	"github.com/hpungsan/clipkeep/internal/logging"
	"github.com/hpungsan/clipkeep/internal/store"
)

// Outcome says what a commit did.
type Outcome string

const (
	Inserted   Outcome = "inserted"
	Bumped     Outcome = "bumped"
	Suppressed Outcome = "suppressed"
)

// CommitResult identifies the record a commit landed on. ID is empty when
// the outcome is Suppressed.
type CommitResult struct {
	ID      string   `json:"id,omitempty"`
	Outcome Outcome  `json:"outcome"`
	Evicted []string `json:"evicted,omitempty"`
}

// Options configures an Engine.
type Options struct {
	// Window is the dedup window. A duplicate exactly Window old still bumps.
	Window time.Duration

	// Origin tags newly inserted records.
	Origin string

	Logger *slog.Logger
}

// Engine decides between insert and bump.
type Engine struct {
	mu     sync.Mutex
	store  *store.Store
	window time.Duration
	origin string
	log    *slog.Logger
}

// New returns an engine writing to s.
func New(s *store.Store, opts Options) *Engine {
	e := &Engine{
		store:  s,
		window: opts.Window,
		origin: opts.Origin,
		log:    opts.Logger,
	}
	if e.window < 0 {
		e.window = 0
	}
	if e.log == nil {
		e.log = logging.For("dedup")
	}
	return e
}

// Window returns the configured dedup window.
func (e *Engine) Window() time.Duration {
	return e.window
}

// Commit applies the dedup rule to a classified draft at the store's clock.
func (e *Engine) Commit(ctx context.Context, d classify.Draft) (CommitResult, error) {
	if d.Content == nil {
		return CommitResult{}, errors.NewInvalidRequest("draft has no content")
	}
	if d.Fingerprint == "" {
		d.Fingerprint = clip.Fingerprint(d.Content)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.store.Now()

	existing, err := e.store.FindLive(ctx, d.Fingerprint)
	if err != nil {
		return CommitResult{}, err
	}
	if existing != nil && now-existing.Created <= e.window.Milliseconds() {
		if err := e.store.Bump(ctx, existing.ID, now); err != nil {
			return CommitResult{}, err
		}
		e.log.Debug("bumped duplicate", "id", existing.ID, "age_ms", now-existing.Created)
		return CommitResult{ID: existing.ID, Outcome: Bumped}, nil
	}

	id, err := clip.NewID(time.UnixMilli(now))
	if err != nil {
		return CommitResult{}, errors.NewInternal(err)
	}
	rec := &clip.Record{
		ID:          id,
		Content:     d.Content,
		Fingerprint: d.Fingerprint,
		Created:     now,
		Origin:      e.origin,
		SyncState:   clip.SyncLocal,
	}
	evicted, err := e.store.Insert(ctx, rec, d.Blob)
	if err != nil {
		return CommitResult{}, err
	}
	return CommitResult{ID: id, Outcome: Inserted, Evicted: evicted}, nil
}

// Touch bumps a known live record to now regardless of the window. Used when
// a record is re-pasted.
func (e *Engine) Touch(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Bump(ctx, id, e.store.Now())
}

// Import commits a record downloaded from the sync mirror, keeping its id,
// created time and origin. It is suppressed when any live local record
// already carries the same fingerprint.
func (e *Engine) Import(ctx context.Context, rec *clip.Record, blobData []byte) (CommitResult, error) {
	if rec == nil || rec.ID == "" || rec.Content == nil {
		return CommitResult{}, errors.NewInvalidRequest("import requires id and content")
	}
	if rec.Fingerprint == "" {
		rec.Fingerprint = clip.Fingerprint(rec.Content)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	existing, err := e.store.FindLive(ctx, rec.Fingerprint)
	if err != nil {
		return CommitResult{}, err
	}
	if existing != nil {
		return CommitResult{Outcome: Suppressed}, nil
	}

	evicted, err := e.store.Insert(ctx, rec, blobData)
	if err != nil {
		return CommitResult{}, err
	}
	return CommitResult{ID: rec.ID, Outcome: Inserted, Evicted: evicted}, nil
}

// Replace overwrites a live record with a remote conflict winner under the
// engine lock. loser, when non-nil, is inserted in the same transaction; see
// store.ReplaceKeeping.
func (e *Engine) Replace(ctx context.Context, rec *clip.Record, blobData []byte, loser *clip.Record, loserBlob []byte) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.ReplaceKeeping(ctx, rec, blobData, loser, loserBlob)
}
