package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hpungsan/clipkeep/internal/clip"
	"github.com/hpungsan/clipkeep/internal/errors"
)

// Row is one records row. EncryptedContent is opaque to this package.
type Row struct {
	ID               string
	ContentType      clip.ContentType
	EncryptedContent []byte
	Fingerprint      string
	Created          int64
	Pinned           bool
	Deleted          bool
	DeletedAt        *int64
	Origin           string
	SyncState        clip.SyncState
	UpdatedAt        int64
}

const rowColumns = `id, content_type, encrypted_content, fingerprint, created,
	pinned, is_deleted, deleted_at, origin, sync_state, updated_at`

// liveOrder is the canonical list order: pinned first, then newest first.
const liveOrder = ` ORDER BY pinned DESC, created DESC, id DESC`

// Insert stores a new row.
func Insert(ctx context.Context, q Querier, r *Row) error {
	if r.UpdatedAt == 0 {
		r.UpdatedAt = time.Now().UnixMilli()
	}
	query := `
		INSERT INTO records (` + rowColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		r.ID, string(r.ContentType), r.EncryptedContent, r.Fingerprint, r.Created,
		boolToInt(r.Pinned), boolToInt(r.Deleted), toNullInt64(r.DeletedAt), r.Origin, string(r.SyncState), r.UpdatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return errors.NewConflict(fmt.Sprintf("record %s already exists", r.ID))
		}
		return err
	}
	return nil
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetByID retrieves a row by id.
// If includeDeleted is false, soft-deleted rows are excluded.
func GetByID(ctx context.Context, q Querier, id string, includeDeleted bool) (*Row, error) {
	query := `SELECT ` + rowColumns + ` FROM records WHERE id = ?`
	if !includeDeleted {
		query += " AND is_deleted = 0"
	}

	r, err := scanRow(q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return r, nil
}

// FindLiveByFingerprint returns the newest live row with fingerprint fp, or nil.
func FindLiveByFingerprint(ctx context.Context, q Querier, fp string) (*Row, error) {
	query := `SELECT ` + rowColumns + ` FROM records
		WHERE fingerprint = ? AND is_deleted = 0
		ORDER BY created DESC LIMIT 1`

	r, err := scanRow(q.QueryRowContext(ctx, query, fp))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Touch refreshes created and sync_state of a live row (dedup bump-to-top).
func Touch(ctx context.Context, q Querier, id string, created int64, state clip.SyncState) error {
	return execOne(ctx, q, id, `
		UPDATE records SET created = ?, sync_state = ?, updated_at = ?
		WHERE id = ? AND is_deleted = 0`,
		created, string(state), time.Now().UnixMilli(), id)
}

// SetPinned sets the pin flag of a live row.
func SetPinned(ctx context.Context, q Querier, id string, pinned bool) error {
	return execOne(ctx, q, id, `
		UPDATE records SET pinned = ?, updated_at = ?
		WHERE id = ? AND is_deleted = 0`,
		boolToInt(pinned), time.Now().UnixMilli(), id)
}

// SoftDelete marks a live row deleted at deletedAt (epoch-ms).
func SoftDelete(ctx context.Context, q Querier, id string, deletedAt int64) error {
	return execOne(ctx, q, id, `
		UPDATE records SET is_deleted = 1, deleted_at = ?, updated_at = ?
		WHERE id = ? AND is_deleted = 0`,
		deletedAt, time.Now().UnixMilli(), id)
}

// SetSyncState updates sync_state regardless of deletion status.
func SetSyncState(ctx context.Context, q Querier, id string, state clip.SyncState) error {
	return execOne(ctx, q, id, `
		UPDATE records SET sync_state = ?, updated_at = ?
		WHERE id = ?`,
		string(state), time.Now().UnixMilli(), id)
}

// ReplaceContent overwrites the payload of a live row (conflict winner from remote).
func ReplaceContent(ctx context.Context, q Querier, r *Row) error {
	return execOne(ctx, q, r.ID, `
		UPDATE records
		SET content_type = ?, encrypted_content = ?, fingerprint = ?, created = ?,
			origin = ?, sync_state = ?, updated_at = ?
		WHERE id = ? AND is_deleted = 0`,
		string(r.ContentType), r.EncryptedContent, r.Fingerprint, r.Created,
		r.Origin, string(r.SyncState), time.Now().UnixMilli(), r.ID)
}

// HardDelete removes a row permanently.
func HardDelete(ctx context.Context, q Querier, id string) error {
	return execOne(ctx, q, id, `DELETE FROM records WHERE id = ?`, id)
}

// CountLive returns the number of live rows, split by pin state.
func CountLive(ctx context.Context, q Querier) (unpinned, pinned int, err error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN pinned = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN pinned = 1 THEN 1 ELSE 0 END), 0)
		FROM records WHERE is_deleted = 0`
	if err := q.QueryRowContext(ctx, query).Scan(&unpinned, &pinned); err != nil {
		return 0, 0, err
	}
	return unpinned, pinned, nil
}

// OldestEvictable returns up to n ids of live, unpinned rows in eviction order:
// oldest first, with rows awaiting upload only after every other candidate.
func OldestEvictable(ctx context.Context, q Querier, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	query := `
		SELECT id FROM records
		WHERE is_deleted = 0 AND pinned = 0
		ORDER BY (sync_state = ?) ASC, created ASC, id ASC
		LIMIT ?`
	rows, err := q.QueryContext(ctx, query, string(clip.SyncPendingUpload), n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// OldestLiveUnpinnedCreated returns the created time of the oldest live unpinned row.
func OldestLiveUnpinnedCreated(ctx context.Context, q Querier) (int64, bool, error) {
	var created sql.NullInt64
	err := q.QueryRowContext(ctx,
		`SELECT MIN(created) FROM records WHERE is_deleted = 0 AND pinned = 0`).Scan(&created)
	if err != nil {
		return 0, false, err
	}
	return created.Int64, created.Valid, nil
}

// ListLive returns one page of live rows in list order plus the live total.
func ListLive(ctx context.Context, q Querier, limit, offset int) ([]*Row, int, error) {
	var total int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE is_deleted = 0`).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	query := `SELECT ` + rowColumns + ` FROM records WHERE is_deleted = 0` + liveOrder + ` LIMIT ? OFFSET ?`
	rows, err := queryRows(ctx, q, query, limit, offset)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	return rows, total, nil
}

// GetMany returns live rows for ids in list order. Unknown ids are skipped.
func GetMany(ctx context.Context, q Querier, ids []string) ([]*Row, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `SELECT ` + rowColumns + ` FROM records
		WHERE is_deleted = 0 AND id IN (` + placeholders + `)` + liveOrder
	return queryRows(ctx, q, query, args...)
}

// AllLive returns every live row. Used to rebuild the search index.
func AllLive(ctx context.Context, q Querier) ([]*Row, error) {
	return queryRows(ctx, q, `SELECT `+rowColumns+` FROM records WHERE is_deleted = 0`+liveOrder)
}

// AllRows returns every row including soft-deleted ones, oldest first. Used by sync.
func AllRows(ctx context.Context, q Querier) ([]*Row, error) {
	return queryRows(ctx, q, `SELECT `+rowColumns+` FROM records ORDER BY created ASC, id ASC`)
}

// PurgeDeleted permanently deletes soft-deleted rows whose deleted_at is at or before cutoff (epoch-ms).
// Rows still awaiting sync propagation are kept unless force is true.
func PurgeDeleted(ctx context.Context, q Querier, cutoff int64, force bool) (int, error) {
	query := `DELETE FROM records WHERE is_deleted = 1 AND deleted_at <= ?`
	args := []any{cutoff}
	if !force {
		query += ` AND sync_state = ?`
		args = append(args, string(clip.SyncLocal))
	}
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return int(n), nil
}

// GetSetting reads a persisted setting. ok is false when unset.
func GetSetting(ctx context.Context, q Querier, key string) (value string, ok bool, err error) {
	err = q.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// PutSetting upserts a persisted setting.
func PutSetting(ctx context.Context, q Querier, key, value string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// TotalChanges returns the rows changed so far on the connection q runs on.
// Within one transaction the difference of two calls is the rows it wrote.
func TotalChanges(ctx context.Context, q Querier) (int64, error) {
	var n int64
	err := q.QueryRowContext(ctx, `SELECT total_changes()`).Scan(&n)
	return n, err
}

// GenerationKey is the settings key of the write generation counter.
const GenerationKey = "generation"

// Generation returns the write generation, 0 before the first write.
func Generation(ctx context.Context, q Querier) (int64, error) {
	var gen int64
	err := q.QueryRowContext(ctx,
		`SELECT CAST(value AS INTEGER) FROM settings WHERE key = ?`, GenerationKey).Scan(&gen)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return gen, err
}

// BumpGeneration increments the write generation inside tx and returns the
// new value. Every process sharing the database sees it move.
func BumpGeneration(ctx context.Context, q Querier) (int64, error) {
	_, err := q.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, '1')
		ON CONFLICT(key) DO UPDATE SET value = CAST(value AS INTEGER) + 1`, GenerationKey)
	if err != nil {
		return 0, err
	}
	return Generation(ctx, q)
}

func execOne(ctx context.Context, q Querier, id, query string, args ...any) error {
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.NewNotFound(id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func queryRows(ctx context.Context, q Querier, query string, args ...any) ([]*Row, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// scanRow scans a single row into a Row struct.
func scanRow(s rowScanner) (*Row, error) {
	var (
		r           Row
		contentType string
		syncState   string
		pinned      int
		deleted     int
		deletedAt   sql.NullInt64
	)
	err := s.Scan(
		&r.ID, &contentType, &r.EncryptedContent, &r.Fingerprint, &r.Created,
		&pinned, &deleted, &deletedAt, &r.Origin, &syncState, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.ContentType = clip.ContentType(contentType)
	r.SyncState = clip.SyncState(syncState)
	r.Pinned = pinned != 0
	r.Deleted = deleted != 0
	if deletedAt.Valid {
		r.DeletedAt = &deletedAt.Int64
	}
	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func toNullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
