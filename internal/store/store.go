// Package store is the encrypted, capacity-bounded record store.
//
// It owns the record table, the blob directory and the search index, and keeps
// them consistent: every write commits the database transaction and applies
// the matching index change inside one exclusive critical section. Reads take
// the shared side of the same lock, so they never observe a half-applied write.
//
// Several processes may share one database (the watcher and a query server).
// Every write transaction bumps a generation counter in the settings table;
// a store whose index was built at an older generation rebuilds it before the
// next search.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/hpungsan/clipkeep/internal/blob"
	"github.com/hpungsan/clipkeep/internal/clip"
	"github.com/hpungsan/clipkeep/internal/config"
	"github.com/hpungsan/clipkeep/internal/db"
	"github.com/hpungsan/clipkeep/internal/errors"
	"github.com/hpungsan/clipkeep/internal/index"
	"github.com/hpungsan/clipkeep/internal/logging"
	"github.com/hpungsan/clipkeep/internal/notify"
	"github.com/hpungsan/clipkeep/internal/tier"
)

// settingMaxRecords is the settings key holding a runtime capacity override.
const settingMaxRecords = "max_records"

// Sealer encrypts record payloads. Implemented by *vault.Vault.
type Sealer interface {
	Seal(plaintext, ad []byte) ([]byte, error)
	Unseal(sealed, ad []byte) ([]byte, error)
}

// Options configures a Store.
type Options struct {
	// MaxRecords is the configured capacity; a persisted override wins.
	MaxRecords int

	// BloomFPRate is passed to the search index.
	BloomFPRate float64

	Limits   tier.Limits
	Notifier notify.Publisher
	Logger   *slog.Logger

	// Now is the clock; tests pin it.
	Now func() time.Time
}

// Store is safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	db     *sql.DB
	vault  Sealer
	blobs  *blob.Store
	idx    *index.Index
	limits tier.Limits
	notify notify.Publisher
	log    *slog.Logger
	now    func() time.Time

	maxRecords int

	// gen is the write generation the index reflects.
	gen int64
}

// Open wires a store over an initialized database and rebuilds the index.
func Open(ctx context.Context, database *sql.DB, v Sealer, blobs *blob.Store, opts Options) (*Store, error) {
	s := &Store{
		db:         database,
		vault:      v,
		blobs:      blobs,
		idx:        index.New(opts.BloomFPRate),
		limits:     opts.Limits,
		notify:     opts.Notifier,
		log:        opts.Logger,
		now:        opts.Now,
		maxRecords: config.ClampMaxRecords(opts.MaxRecords),
	}
	if s.limits == nil {
		s.limits = tier.FreeLimits
	}
	if s.notify == nil {
		s.notify = notify.Discard{}
	}
	if s.log == nil {
		s.log = logging.For("store")
	}
	if s.now == nil {
		s.now = time.Now
	}

	if val, ok, err := db.GetSetting(ctx, database, settingMaxRecords); err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	} else if ok {
		if n, err := strconv.Atoi(val); err == nil {
			s.maxRecords = config.ClampMaxRecords(n)
		}
	}

	if err := s.Rebuild(ctx); err != nil {
		return nil, err
	}

	// The tier may have shrunk since the last run.
	if _, err := s.enforceCapacity(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Index exposes the search index for read-only use.
func (s *Store) Index() *index.Index {
	return s.idx
}

// Now returns the store clock in epoch milliseconds.
func (s *Store) Now() int64 {
	return s.now().UnixMilli()
}

// Capacity returns the effective ceiling for live unpinned records: the
// configured maximum clamped to the tier's current limit.
func (s *Store) Capacity() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capacityLocked()
}

func (s *Store) capacityLocked() int {
	limit := s.maxRecords
	if t := int(s.limits.CurrentMaxRecords()); t > 0 && t < limit {
		limit = t
	}
	return limit
}

// Rebuild reloads the search index from live records.
// Records that fail to decrypt are logged and left out.
func (s *Store) Rebuild(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rebuildLocked(ctx)
}

func (s *Store) rebuildLocked(ctx context.Context) error {
	// Read the generation first: a write landing between the two reads
	// leaves gen behind and triggers another rebuild, never a missed one.
	gen, err := db.Generation(ctx, s.db)
	if err != nil {
		return fmt.Errorf("load generation: %w", err)
	}
	rows, err := db.AllLive(ctx, s.db)
	if err != nil {
		return fmt.Errorf("load records: %w", err)
	}
	s.gen = gen
	s.idx.Reset()
	for _, row := range rows {
		rec, err := s.decode(row)
		if err != nil {
			s.log.Warn("skip undecryptable record", "id", row.ID, "error", err)
			continue
		}
		s.idx.Put(entryFor(rec))
	}
	s.log.Debug("index rebuilt", "records", s.idx.Len(), "generation", gen)
	return nil
}

// refreshIndex rebuilds the index when another process has written since it
// was last brought up to date.
func (s *Store) refreshIndex(ctx context.Context) error {
	gen, err := db.Generation(ctx, s.db)
	if err != nil {
		return errors.NewInternal(err)
	}
	s.mu.RLock()
	current := gen == s.gen
	s.mu.RUnlock()
	if current {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen, err = db.Generation(ctx, s.db); err != nil {
		return errors.NewInternal(err)
	}
	if gen == s.gen {
		return nil
	}
	if err := s.rebuildLocked(ctx); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// Insert stores a new record and evicts the oldest excess unpinned records in
// the same transaction. rec must carry ID, Content, Fingerprint and Created.
// blobData, when non-nil, is written out-of-line before the row.
// It returns the ids evicted to make room.
func (s *Store) Insert(ctx context.Context, rec *clip.Record, blobData []byte) ([]string, error) {
	if rec == nil || rec.ID == "" || rec.Content == nil {
		return nil, errors.NewInvalidRequest("record requires id and content")
	}
	rec.Type = rec.Content.Kind()
	if rec.Fingerprint == "" {
		rec.Fingerprint = clip.Fingerprint(rec.Content)
	}
	if rec.SyncState == "" {
		rec.SyncState = clip.SyncLocal
	}

	row, err := s.encode(rec)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if err := s.putBlobLocked(rec.Content, blobData); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	var evicted []string
	err = s.write(ctx, "insert", func(tx *sql.Tx) error {
		if err := db.Insert(ctx, tx, row); err != nil {
			return err
		}
		ids, err := s.evictLocked(ctx, tx)
		evicted = ids
		return err
	})
	if err == nil {
		s.idx.Put(entryFor(rec))
		for _, id := range evicted {
			s.idx.Remove(id)
		}
	}
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}

	s.notify.Publish(notify.Event{Kind: notify.Inserted, ID: rec.ID})
	s.publishDeleted(evicted)
	if len(evicted) > 0 {
		s.log.Debug("evicted records", "count", len(evicted), "capacity", s.Capacity())
	}
	return evicted, nil
}

// Bump refreshes a live record's created time (dedup bump-to-top). A synced
// record goes back to pending_upload so the new time reaches the mirror.
func (s *Store) Bump(ctx context.Context, id string, created int64) error {
	s.mu.Lock()
	err := s.write(ctx, "bump", func(tx *sql.Tx) error {
		row, err := db.GetByID(ctx, tx, id, false)
		if err != nil {
			return err
		}
		state := row.SyncState
		if state == clip.SyncSynced {
			state = clip.SyncPendingUpload
		}
		return db.Touch(ctx, tx, id, created, state)
	})
	if err == nil {
		s.idx.Touch(id, created)
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.notify.Publish(notify.Event{Kind: notify.Updated, ID: id})
	return nil
}

// Get returns a live record with decrypted content.
func (s *Store) Get(ctx context.Context, id string) (*clip.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, err := db.GetByID(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	return s.decode(row)
}

// FindLive returns the newest live record with fingerprint fp, or nil.
func (s *Store) FindLive(ctx context.Context, fp string) (*clip.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, err := db.FindLiveByFingerprint(ctx, s.db, fp)
	if err != nil || row == nil {
		return nil, err
	}
	return s.decode(row)
}

// Blob returns the plaintext bytes of an image record's bitmap.
func (s *Store) Blob(ref string) ([]byte, error) {
	return s.blobs.Get(ref)
}

// ListQuery selects one page of live records.
type ListQuery struct {
	Limit  int
	Offset int

	// Filter, when non-empty, restricts results to records whose search text
	// contains it. With Fuzzy set, records are ranked by subsequence match instead.
	Filter string
	Fuzzy  bool
}

// List returns one page of live records plus the total number matching.
// Unfiltered pages come straight from the table; filtered pages take their
// candidate ids from the index and are hydrated from the table.
func (s *Store) List(ctx context.Context, q ListQuery) ([]*clip.Record, int, error) {
	if q.Filter != "" {
		if err := s.refreshIndex(ctx); err != nil {
			return nil, 0, err
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if q.Filter == "" {
		limit := q.Limit
		if limit <= 0 {
			limit = -1 // sqlite: no limit
		}
		rows, total, err := db.ListLive(ctx, s.db, limit, q.Offset)
		if err != nil {
			return nil, 0, err
		}
		return s.decodeAll(rows), total, nil
	}

	var ids []string
	if q.Fuzzy {
		ids = s.idx.Fuzzy(q.Filter, 0)
	} else {
		ids = s.idx.Search(q.Filter)
	}
	total := len(ids)
	page := paginate(ids, q.Limit, q.Offset)
	if len(page) == 0 {
		return nil, total, nil
	}

	rows, err := db.GetMany(ctx, s.db, page)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	return s.decodeAll(orderLike(rows, page)), total, nil
}

// Pin marks a record pinned. Pinning beyond the tier's ceiling is a CONFLICT.
func (s *Store) Pin(ctx context.Context, id string) error {
	return s.setPinned(ctx, id, true)
}

// Unpin clears the pin. The record rejoins the capacity budget, which may
// trigger eviction.
func (s *Store) Unpin(ctx context.Context, id string) error {
	return s.setPinned(ctx, id, false)
}

func (s *Store) setPinned(ctx context.Context, id string, pinned bool) error {
	op := "unpin"
	if pinned {
		op = "pin"
	}

	s.mu.Lock()
	var (
		evicted []string
		changed bool
	)
	err := s.write(ctx, op, func(tx *sql.Tx) error {
		evicted, changed = nil, false
		row, err := db.GetByID(ctx, tx, id, false)
		if err != nil {
			return err
		}
		if row.Pinned == pinned {
			return nil
		}
		if pinned {
			_, count, err := db.CountLive(ctx, tx)
			if err != nil {
				return err
			}
			if ceiling := int(s.limits.MaxPinned()); ceiling > 0 && count >= ceiling {
				return errors.NewConflict(fmt.Sprintf("cannot pin: pinned limit of %d reached", ceiling))
			}
		}
		if err := db.SetPinned(ctx, tx, id, pinned); err != nil {
			return err
		}
		changed = true
		if !pinned {
			evicted, err = s.evictLocked(ctx, tx)
			return err
		}
		return nil
	})
	if err == nil && changed {
		s.idx.SetPinned(id, pinned)
		for _, eid := range evicted {
			s.idx.Remove(eid)
		}
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if changed {
		s.notify.Publish(notify.Event{Kind: notify.Updated, ID: id})
	}
	s.publishDeleted(evicted)
	return nil
}

// Delete soft-deletes a live record and drops it from the index.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	err := s.write(ctx, "delete", func(tx *sql.Tx) error {
		return db.SoftDelete(ctx, tx, id, s.Now())
	})
	if err == nil {
		s.idx.Remove(id)
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.notify.Publish(notify.Event{Kind: notify.Deleted, ID: id})
	return nil
}

// SetSyncState records the reconciler's view of a record (live or deleted).
func (s *Store) SetSyncState(ctx context.Context, id string, state clip.SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(ctx, "set sync state", func(tx *sql.Tx) error {
		return db.SetSyncState(ctx, tx, id, state)
	})
}

// ReplaceContent overwrites a live record's payload, fingerprint, created time
// and origin in place (remote conflict winner). The id is kept.
func (s *Store) ReplaceContent(ctx context.Context, rec *clip.Record, blobData []byte) error {
	_, err := s.ReplaceKeeping(ctx, rec, blobData, nil, nil)
	return err
}

// ReplaceKeeping replaces rec's content like ReplaceContent and, in the same
// transaction, inserts loser as a separate record, so the displaced content
// is never lost between the two writes. loser may be nil. It is dropped when
// its id is already stored or another live record already holds its content.
// kept reports whether loser was inserted.
func (s *Store) ReplaceKeeping(ctx context.Context, rec *clip.Record, blobData []byte, loser *clip.Record, loserBlob []byte) (kept bool, err error) {
	if rec == nil || rec.ID == "" || rec.Content == nil {
		return false, errors.NewInvalidRequest("record requires id and content")
	}
	rec.Type = rec.Content.Kind()
	if rec.Fingerprint == "" {
		rec.Fingerprint = clip.Fingerprint(rec.Content)
	}
	row, err := s.encode(rec)
	if err != nil {
		return false, err
	}

	var loserRow *db.Row
	if loser != nil {
		if loser.ID == "" || loser.Content == nil {
			return false, errors.NewInvalidRequest("loser requires id and content")
		}
		loser.Type = loser.Content.Kind()
		if loser.Fingerprint == "" {
			loser.Fingerprint = clip.Fingerprint(loser.Content)
		}
		if loser.SyncState == "" {
			loser.SyncState = clip.SyncLocal
		}
		if loserRow, err = s.encode(loser); err != nil {
			return false, err
		}
	}

	s.mu.Lock()
	if err := s.putBlobLocked(rec.Content, blobData); err != nil {
		s.mu.Unlock()
		return false, err
	}
	if loserRow != nil {
		if err := s.putBlobLocked(loser.Content, loserBlob); err != nil {
			s.mu.Unlock()
			return false, err
		}
	}
	var evicted []string
	err = s.write(ctx, "replace", func(tx *sql.Tx) error {
		kept, evicted = false, nil
		cur, err := db.GetByID(ctx, tx, rec.ID, false)
		if err != nil {
			return err
		}
		rec.Pinned = cur.Pinned
		if err := db.ReplaceContent(ctx, tx, row); err != nil {
			return err
		}
		if loserRow == nil {
			return nil
		}

		if _, err := db.GetByID(ctx, tx, loserRow.ID, true); err == nil {
			return nil
		} else if !errors.Is(err, errors.ErrNotFound) {
			return err
		}
		dup, err := db.FindLiveByFingerprint(ctx, tx, loserRow.Fingerprint)
		if err != nil || dup != nil {
			return err
		}
		if err := db.Insert(ctx, tx, loserRow); err != nil {
			return err
		}
		kept = true
		evicted, err = s.evictLocked(ctx, tx)
		return err
	})
	if err == nil {
		s.idx.Put(entryFor(rec))
		if kept {
			s.idx.Put(entryFor(loser))
		}
		for _, id := range evicted {
			s.idx.Remove(id)
		}
	}
	s.mu.Unlock()

	if err != nil {
		return false, err
	}
	s.notify.Publish(notify.Event{Kind: notify.Updated, ID: rec.ID})
	if kept {
		s.notify.Publish(notify.Event{Kind: notify.Inserted, ID: loser.ID})
	}
	s.publishDeleted(evicted)
	return kept, nil
}

// HardDelete removes a record permanently (after its deletion has propagated).
func (s *Store) HardDelete(ctx context.Context, id string) error {
	s.mu.Lock()
	err := s.write(ctx, "hard delete", func(tx *sql.Tx) error {
		return db.HardDelete(ctx, tx, id)
	})
	wasLive := s.idx.Has(id)
	if err == nil {
		s.idx.Remove(id)
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if wasLive {
		s.notify.Publish(notify.Event{Kind: notify.Deleted, ID: id})
	}
	return nil
}

// PurgeDeleted hard-deletes soft-deleted records older than olderThan and
// sweeps blobs no remaining record references. Records still owed to the
// sync mirror are kept unless force is set.
func (s *Store) PurgeDeleted(ctx context.Context, olderThan time.Duration, force bool) (int, error) {
	cutoff := s.now().Add(-olderThan).UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int
	err := s.write(ctx, "purge", func(tx *sql.Tx) error {
		n, err := db.PurgeDeleted(ctx, tx, cutoff, force)
		purged = n
		return err
	})
	if err != nil {
		return 0, err
	}

	if swept, err := s.sweepBlobsLocked(ctx); err != nil {
		s.log.Warn("blob sweep failed", "error", err)
	} else if swept > 0 {
		s.log.Debug("swept blobs", "count", swept)
	}
	return purged, nil
}

func (s *Store) sweepBlobsLocked(ctx context.Context) (int, error) {
	rows, err := db.AllRows(ctx, s.db)
	if err != nil {
		return 0, err
	}
	keep := make(map[string]bool)
	for _, row := range rows {
		if row.ContentType != clip.TypeImage {
			continue
		}
		rec, err := s.decode(row)
		if err != nil {
			// Cannot tell which blob it references; keep everything.
			return 0, err
		}
		if img, ok := rec.Content.(clip.Image); ok {
			keep[img.BlobRef] = true
		}
	}
	return s.blobs.Sweep(keep)
}

// SetMaxRecords persists a new configured capacity (clamped to [50, 1000])
// and evicts immediately if the effective ceiling dropped. It returns the
// effective capacity and the evicted ids.
func (s *Store) SetMaxRecords(ctx context.Context, n int) (int, []string, error) {
	n = config.ClampMaxRecords(n)

	s.mu.Lock()
	var evicted []string
	err := s.write(ctx, "set max records", func(tx *sql.Tx) error {
		if err := db.PutSetting(ctx, tx, settingMaxRecords, strconv.Itoa(n)); err != nil {
			return err
		}
		prev := s.maxRecords
		s.maxRecords = n
		ids, err := s.evictLocked(ctx, tx)
		if err != nil {
			s.maxRecords = prev
			return err
		}
		evicted = ids
		return nil
	})
	for _, id := range evicted {
		s.idx.Remove(id)
	}
	capacity := s.capacityLocked()
	s.mu.Unlock()

	if err != nil {
		return 0, nil, err
	}
	s.publishDeleted(evicted)
	return capacity, evicted, nil
}

// enforceCapacity evicts down to the current effective ceiling. Callers use
// it after the tier collaborator reports a smaller limit.
func (s *Store) enforceCapacity(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	var evicted []string
	err := s.write(ctx, "evict", func(tx *sql.Tx) error {
		ids, err := s.evictLocked(ctx, tx)
		evicted = ids
		return err
	})
	for _, id := range evicted {
		s.idx.Remove(id)
	}
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	s.publishDeleted(evicted)
	return evicted, nil
}

// EnforceCapacity re-checks the tier ceiling and evicts any excess.
func (s *Store) EnforceCapacity(ctx context.Context) ([]string, error) {
	return s.enforceCapacity(ctx)
}

// Counts returns the number of live unpinned and pinned records.
func (s *Store) Counts(ctx context.Context) (unpinned, pinned int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return db.CountLive(ctx, s.db)
}

// AtCapacity reports whether one more unpinned record would trigger eviction,
// and the created time of the oldest live unpinned record.
func (s *Store) AtCapacity(ctx context.Context) (bool, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	unpinned, _, err := db.CountLive(ctx, s.db)
	if err != nil {
		return false, 0, err
	}
	oldest, _, err := db.OldestLiveUnpinnedCreated(ctx, s.db)
	if err != nil {
		return false, 0, err
	}
	return unpinned >= s.capacityLocked(), oldest, nil
}

// SyncRecord is a record as the reconciler sees it. Content is nil for
// deleted rows that cannot be decrypted.
type SyncRecord struct {
	clip.Record
	UpdatedAt int64
}

// ForSync returns every row, live and soft-deleted, oldest first.
func (s *Store) ForSync(ctx context.Context) ([]SyncRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := db.AllRows(ctx, s.db)
	if err != nil {
		return nil, err
	}
	out := make([]SyncRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := s.decode(row)
		if err != nil {
			if !row.Deleted {
				s.log.Warn("skip undecryptable record", "id", row.ID, "error", err)
				continue
			}
			rec = recordFromRow(row)
		}
		out = append(out, SyncRecord{Record: *rec, UpdatedAt: row.UpdatedAt})
	}
	return out, nil
}

// Lookup returns a record by id including soft-deleted ones, or nil if the id
// was never stored (or has been purged).
func (s *Store) Lookup(ctx context.Context, id string) (*clip.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, err := db.GetByID(ctx, s.db, id, true)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if row.Deleted {
		return recordFromRow(row), nil
	}
	return s.decode(row)
}

// write runs fn in a transaction that also bumps the write generation when fn
// changed any row. A
// failure other than a caller error (not found, conflict, invalid request) is
// retried once before surfacing as STORE_WRITE_FAILED. Caller holds s.mu.
func (s *Store) write(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	var (
		err  error
		next int64
	)
	for attempt := 1; attempt <= 2; attempt++ {
		err = s.runTx(ctx, func(tx *sql.Tx) error {
			before, err := db.TotalChanges(ctx, tx)
			if err != nil {
				return err
			}
			if err := fn(tx); err != nil {
				return err
			}
			after, err := db.TotalChanges(ctx, tx)
			if err != nil || after == before {
				next = 0
				return err
			}
			next, err = db.BumpGeneration(ctx, tx)
			return err
		})
		if err == nil {
			// Adopt the new generation only if nobody else wrote since the
			// index was last current; otherwise the next search rebuilds.
			if next != 0 && next == s.gen+1 {
				s.gen = next
			}
			return nil
		}
		if isCallerError(err) {
			return err
		}
		if ctx.Err() != nil {
			break
		}
		s.log.Warn("store write failed", "op", op, "attempt", attempt, "error", err)
	}
	return errors.NewStoreWriteFailed(op, err)
}

func (s *Store) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func isCallerError(err error) bool {
	switch errors.CodeOf(err) {
	case errors.ErrNotFound, errors.ErrConflict, errors.ErrInvalidRequest:
		return true
	}
	return false
}

// evictLocked soft-deletes the oldest excess unpinned records and marks them
// local so the purge may reclaim them. Caller holds s.mu.
func (s *Store) evictLocked(ctx context.Context, tx *sql.Tx) ([]string, error) {
	unpinned, _, err := db.CountLive(ctx, tx)
	if err != nil {
		return nil, err
	}
	excess := unpinned - s.capacityLocked()
	if excess <= 0 {
		return nil, nil
	}
	ids, err := db.OldestEvictable(ctx, tx, excess)
	if err != nil {
		return nil, err
	}
	now := s.Now()
	for _, id := range ids {
		if err := db.SoftDelete(ctx, tx, id, now); err != nil {
			return nil, err
		}
		// Eviction is local housekeeping: never propagate it to the mirror.
		if err := db.SetSyncState(ctx, tx, id, clip.SyncLocal); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func (s *Store) publishDeleted(ids []string) {
	for _, id := range ids {
		s.notify.Publish(notify.Event{Kind: notify.Deleted, ID: id})
	}
}

// putBlobLocked writes an image bitmap out-of-line, retrying once. It runs
// under s.mu so a concurrent purge cannot sweep a blob whose row is not yet
// committed.
func (s *Store) putBlobLocked(c clip.Content, data []byte) error {
	img, ok := c.(clip.Image)
	if !ok || data == nil {
		return nil
	}
	err := s.blobs.Put(img.BlobRef, data)
	if err == nil || errors.Is(err, errors.ErrInvalidRequest) {
		return err
	}
	s.log.Warn("blob write failed, retrying", "ref", img.BlobRef, "error", err)
	if err = s.blobs.Put(img.BlobRef, data); err == nil {
		return nil
	}
	if errors.CodeOf(err) == errors.ErrInternal {
		return errors.NewStoreWriteFailed("blob put", err)
	}
	return err
}

// encode seals rec's content with its id as associated data, retrying once.
// A record that cannot be sealed is never written.
func (s *Store) encode(rec *clip.Record) (*db.Row, error) {
	plain, err := clip.MarshalContent(rec.Content)
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("encode content: %v", err))
	}
	sealed, err := s.vault.Seal(plain, []byte(rec.ID))
	if err != nil {
		sealed, err = s.vault.Seal(plain, []byte(rec.ID))
	}
	if err != nil {
		if errors.Is(err, errors.ErrEncryptionFailure) {
			return nil, err
		}
		return nil, errors.NewEncryptionFailure(err)
	}
	return &db.Row{
		ID:               rec.ID,
		ContentType:      rec.Type,
		EncryptedContent: sealed,
		Fingerprint:      rec.Fingerprint,
		Created:          rec.Created,
		Pinned:           rec.Pinned,
		Deleted:          rec.Deleted,
		DeletedAt:        rec.DeletedAt,
		Origin:           rec.Origin,
		SyncState:        rec.SyncState,
	}, nil
}

func (s *Store) decode(row *db.Row) (*clip.Record, error) {
	plain, err := s.vault.Unseal(row.EncryptedContent, []byte(row.ID))
	if err != nil {
		if errors.Is(err, errors.ErrEncryptionFailure) {
			return nil, err
		}
		return nil, errors.NewEncryptionFailure(err)
	}
	content, err := clip.UnmarshalContent(row.ContentType, plain)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("decode %s: %w", row.ID, err))
	}
	rec := recordFromRow(row)
	rec.Content = content
	return rec, nil
}

// decodeAll decrypts rows, leaving out (and logging) any that fail.
func (s *Store) decodeAll(rows []*db.Row) []*clip.Record {
	out := make([]*clip.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := s.decode(row)
		if err != nil {
			s.log.Warn("skip undecryptable record", "id", row.ID, "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out
}

func recordFromRow(row *db.Row) *clip.Record {
	return &clip.Record{
		ID:          row.ID,
		Type:        row.ContentType,
		Fingerprint: row.Fingerprint,
		Created:     row.Created,
		Pinned:      row.Pinned,
		Deleted:     row.Deleted,
		DeletedAt:   row.DeletedAt,
		Origin:      row.Origin,
		SyncState:   row.SyncState,
	}
}

func entryFor(rec *clip.Record) index.Entry {
	return index.Entry{
		ID:      rec.ID,
		Text:    rec.SearchText(),
		Created: rec.Created,
		Pinned:  rec.Pinned,
	}
}

func paginate(ids []string, limit, offset int) []string {
	offset = max(offset, 0)
	if offset >= len(ids) {
		return nil
	}
	end := len(ids)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return ids[offset:end]
}

// orderLike reorders rows to follow ids.
func orderLike(rows []*db.Row, ids []string) []*db.Row {
	byID := make(map[string]*db.Row, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}
	out := make([]*db.Row, 0, len(rows))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out
}
