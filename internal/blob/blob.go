// Package blob keeps large binary payloads (image bitmaps) out of the record
// table. Each blob is sealed with the vault and stored as blobs/<ref>.bin,
// where ref is the SHA-256 of the plaintext.
package blob

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	clerrors "github.com/hpungsan/clipkeep/internal/errors"
)

const ext = ".bin"

// Sealer is the subset of the vault the blob store needs.
type Sealer interface {
	Seal(plaintext, ad []byte) ([]byte, error)
	Unseal(sealed, ad []byte) ([]byte, error)
}

// Store is a directory of sealed, content-addressed blobs.
type Store struct {
	dir   string
	vault Sealer
}

// New returns a blob store rooted at dir. The directory is created if missing.
func New(dir string, v Sealer) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &Store{dir: dir, vault: v}, nil
}

// validRef rejects anything that is not a lowercase hex SHA-256, so refs
// can never escape the blob directory.
func validRef(ref string) bool {
	if len(ref) != 64 || strings.ToLower(ref) != ref {
		return false
	}
	_, err := hex.DecodeString(ref)
	return err == nil
}

func (s *Store) path(ref string) string {
	return filepath.Join(s.dir, ref+ext)
}

// Put seals data and writes it under ref. Writing an existing ref is a no-op.
func (s *Store) Put(ref string, data []byte) error {
	if !validRef(ref) {
		return clerrors.NewInvalidRequest("invalid blob ref")
	}
	p := s.path(ref)
	if _, err := os.Stat(p); err == nil {
		return nil
	}

	sealed, err := s.vault.Seal(data, []byte(ref))
	if err != nil {
		return err
	}

	// Write to a temp file and rename so a crash never leaves a torn blob.
	tmp, err := os.CreateTemp(s.dir, ref+".*.tmp")
	if err != nil {
		return clerrors.NewStoreWriteFailed("blob put", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(sealed); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return clerrors.NewStoreWriteFailed("blob put", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return clerrors.NewStoreWriteFailed("blob put", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return clerrors.NewStoreWriteFailed("blob put", err)
	}
	return nil
}

// Get reads and unseals the blob for ref.
func (s *Store) Get(ref string) ([]byte, error) {
	if !validRef(ref) {
		return nil, clerrors.NewInvalidRequest("invalid blob ref")
	}
	sealed, err := os.ReadFile(s.path(ref))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, clerrors.NewNotFound(ref)
		}
		return nil, clerrors.NewInternal(err)
	}
	return s.vault.Unseal(sealed, []byte(ref))
}

// Has reports whether a blob exists for ref.
func (s *Store) Has(ref string) bool {
	if !validRef(ref) {
		return false
	}
	_, err := os.Stat(s.path(ref))
	return err == nil
}

// Remove deletes the blob for ref. A missing blob is not an error.
func (s *Store) Remove(ref string) error {
	if !validRef(ref) {
		return clerrors.NewInvalidRequest("invalid blob ref")
	}
	if err := os.Remove(s.path(ref)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Sweep removes every blob whose ref is not in keep, plus stale temp files.
// It returns the number of files removed.
func (s *Store) Sweep(keep map[string]bool) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".tmp"):
		case strings.HasSuffix(name, ext):
			if keep[strings.TrimSuffix(name, ext)] {
				continue
			}
		default:
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
