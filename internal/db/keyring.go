package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/clipkeep/internal/vault"
)

// KeyringStore persists the vault keyring in the single-row keyring table.
type KeyringStore struct {
	DB Querier
}

// LoadKeyring returns the stored keyring, or nil if none exists yet.
func (k KeyringStore) LoadKeyring(ctx context.Context) (*vault.Keyring, error) {
	var (
		kr      vault.Keyring
		threads int
	)
	err := k.DB.QueryRowContext(ctx, `
		SELECT salt, kdf_time, kdf_memory, kdf_threads, verifier
		FROM keyring WHERE id = 1`).Scan(
		&kr.Salt, &kr.Params.Time, &kr.Params.MemoryKiB, &threads, &kr.Verifier,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	kr.Params.Threads = uint8(threads)
	return &kr, nil
}

// SaveKeyring writes the keyring once; an existing keyring is never overwritten.
func (k KeyringStore) SaveKeyring(ctx context.Context, kr *vault.Keyring) error {
	_, err := k.DB.ExecContext(ctx, `
		INSERT INTO keyring (id, salt, kdf_time, kdf_memory, kdf_threads, verifier, created_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)`,
		kr.Salt, kr.Params.Time, kr.Params.MemoryKiB, int(kr.Params.Threads), kr.Verifier, time.Now().UnixMilli(),
	)
	return err
}
