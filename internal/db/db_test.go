package db

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestInit(t *testing.T) {
	tmpDir := t.TempDir()

	db, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Join(tmpDir, "clipkeep.db")); err != nil {
		t.Errorf("database file: %v", err)
	}
	if info, err := os.Stat(filepath.Join(tmpDir, "blobs")); err != nil || !info.IsDir() {
		t.Errorf("blobs directory: %v", err)
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		t.Fatalf("failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %s, want wal", journalMode)
	}

	for _, table := range []string{"records", "keyring", "settings"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Fatalf("%s table not found: %v", table, err)
		}
	}
}

func TestInit_PermissionsRestricted(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits")
	}
	baseDir := filepath.Join(t.TempDir(), ".clipkeep")

	// A blobs dir left world-readable by an older install is tightened.
	if err := os.MkdirAll(filepath.Join(baseDir, "blobs"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(baseDir, 0755); err != nil {
		t.Fatal(err)
	}

	db, err := Init(baseDir)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()

	for path, want := range map[string]os.FileMode{
		baseDir:                               0700,
		filepath.Join(baseDir, "blobs"):       0700,
		filepath.Join(baseDir, "clipkeep.db"): 0600,
	} {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if got := info.Mode().Perm(); got != want {
			t.Errorf("%s mode = %o, want %o", filepath.Base(path), got, want)
		}
	}
}

func TestInit_RecordColumns(t *testing.T) {
	db := setupDB(t)

	rows, err := db.Query("PRAGMA table_info(records)")
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()

	got := map[string]bool{}
	for rows.Next() {
		var (
			cid       int
			name, typ string
			notNull   int
			dflt      any
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			t.Fatal(err)
		}
		got[name] = true
	}
	// Content is only ever stored sealed; there is no plaintext column.
	for _, col := range []string{
		"id", "content_type", "encrypted_content", "fingerprint", "created",
		"pinned", "is_deleted", "deleted_at", "origin", "sync_state", "updated_at",
	} {
		if !got[col] {
			t.Errorf("records.%s missing", col)
		}
	}
	for _, col := range []string{"content", "text", "plaintext"} {
		if got[col] {
			t.Errorf("records.%s must not exist", col)
		}
	}
}

func TestUserVersion(t *testing.T) {
	db := setupDB(t)

	version, err := GetUserVersion(db)
	if err != nil {
		t.Fatalf("GetUserVersion() error = %v", err)
	}
	if version != CurrentSchemaVersion {
		t.Errorf("user_version after Init = %d, want %d", version, CurrentSchemaVersion)
	}

	if err := SetUserVersion(db, 99); err != nil {
		t.Fatalf("SetUserVersion() error = %v", err)
	}
	if version, _ = GetUserVersion(db); version != 99 {
		t.Errorf("user_version = %d, want 99", version)
	}
}

func TestInit_UpgradesVersionOne(t *testing.T) {
	tmpDir := t.TempDir()
	db1, err := Init(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	insertRow(t, db1, "01HZX00000000000000000000A", "fp-a", 100, true)
	// Roll back to the schema before persisted settings existed.
	if _, err := db1.Exec(`DROP TABLE settings; DROP INDEX idx_records_sync_state;`); err != nil {
		t.Fatal(err)
	}
	if err := SetUserVersion(db1, 1); err != nil {
		t.Fatal(err)
	}
	db1.Close()

	db2, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("Init() on version 1 error = %v", err)
	}
	defer db2.Close()

	if version, _ := GetUserVersion(db2); version != CurrentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, CurrentSchemaVersion)
	}
	if err := PutSetting(context.Background(), db2, "max_records", "300"); err != nil {
		t.Errorf("settings table after upgrade: %v", err)
	}
	row, err := GetByID(context.Background(), db2, "01HZX00000000000000000000A", false)
	if err != nil || !row.Pinned {
		t.Errorf("record after upgrade = %+v, %v", row, err)
	}
}

func TestInit_SchemaIndexes(t *testing.T) {
	db := setupDB(t)

	for _, idx := range []string{
		"idx_records_live_order",
		"idx_records_fingerprint",
		"idx_records_evict",
		"idx_records_deleted",
		"idx_records_sync_state",
	} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&name)
		if err != nil {
			t.Errorf("index %s not found: %v", idx, err)
		}
	}
}

func TestGeneration(t *testing.T) {
	tmpDir := t.TempDir()
	db, err := Init(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	ctx := context.Background()

	if gen, err := Generation(ctx, db); err != nil || gen != 0 {
		t.Fatalf("fresh Generation = %d, %v", gen, err)
	}
	for want := int64(1); want <= 2; want++ {
		gen, err := BumpGeneration(ctx, db)
		if err != nil || gen != want {
			t.Fatalf("BumpGeneration = %d, %v; want %d", gen, err, want)
		}
	}

	// Another process opening the same file sees the counter.
	other, err := Init(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	defer other.Close()
	if gen, _ := Generation(ctx, other); gen != 2 {
		t.Errorf("other handle Generation = %d, want 2", gen)
	}
}

func TestTotalChanges_CountsOnlyRealWrites(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()

	before, err := TotalChanges(ctx, tx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE records SET pinned = 1 WHERE id = 'missing'`); err != nil {
		t.Fatal(err)
	}
	if after, _ := TotalChanges(ctx, tx); after != before {
		t.Errorf("no-op update moved total_changes %d -> %d", before, after)
	}
	insertRow(t, tx, "01HZX00000000000000000000B", "fp-b", 100, false)
	if after, _ := TotalChanges(ctx, tx); after != before+1 {
		t.Errorf("insert: total_changes %d -> %d, want +1", before, after)
	}
}
