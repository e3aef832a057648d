package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/clipkeep/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 2

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Init initializes the SQLite database at baseDir/clipkeep.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.clipkeep.
func Init(baseDir string) (*sql.DB, error) {
	// Create base directory with restricted permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	_ = os.Chmod(baseDir, 0700)

	// Out-of-line payloads (images) live next to the database
	blobsDir := filepath.Join(baseDir, "blobs")
	if err := os.MkdirAll(blobsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create blobs directory: %w", err)
	}
	_ = os.Chmod(blobsDir, 0700)

	// Open database with pragmas in connection string (applies to all connections)
	dbPath := filepath.Join(baseDir, "clipkeep.db")
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: record table and keyring
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS records (
		  id                TEXT PRIMARY KEY,
		  content_type      TEXT NOT NULL,
		  encrypted_content BLOB NOT NULL,
		  fingerprint       TEXT NOT NULL,
		  created           INTEGER NOT NULL,
		  pinned            INTEGER NOT NULL DEFAULT 0,
		  is_deleted        INTEGER NOT NULL DEFAULT 0,
		  deleted_at        INTEGER,
		  origin            TEXT NOT NULL,
		  sync_state        TEXT NOT NULL DEFAULT 'local',
		  updated_at        INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_records_live_order
		ON records(pinned DESC, created DESC, id DESC)
		WHERE is_deleted = 0;

		CREATE INDEX IF NOT EXISTS idx_records_fingerprint
		ON records(fingerprint, created DESC)
		WHERE is_deleted = 0;

		CREATE INDEX IF NOT EXISTS idx_records_evict
		ON records(created ASC, id ASC)
		WHERE is_deleted = 0 AND pinned = 0;

		CREATE INDEX IF NOT EXISTS idx_records_deleted
		ON records(deleted_at)
		WHERE is_deleted = 1;

		CREATE TABLE IF NOT EXISTS keyring (
		  id          INTEGER PRIMARY KEY CHECK (id = 1),
		  salt        BLOB NOT NULL,
		  kdf_time    INTEGER NOT NULL,
		  kdf_memory  INTEGER NOT NULL,
		  kdf_threads INTEGER NOT NULL,
		  verifier    BLOB NOT NULL,
		  created_at  INTEGER NOT NULL
		);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Migration 1 -> 2: persisted settings (max_records set at runtime)
	if version < 2 {
		schema := `
		CREATE TABLE IF NOT EXISTS settings (
		  key   TEXT PRIMARY KEY,
		  value TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_records_sync_state
		ON records(sync_state);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 2 failed: %w", err)
		}
		if err := SetUserVersion(db, 2); err != nil {
			return err
		}
	}

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
