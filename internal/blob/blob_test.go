package blob

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/hpungsan/clipkeep/internal/clip"
	"github.com/hpungsan/clipkeep/internal/errors"
	"github.com/hpungsan/clipkeep/internal/vault"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	v, err := vault.New("pw", bytes.Repeat([]byte{7}, 16), vault.Params{Time: 1, MemoryKiB: 8 * 1024, Threads: 1})
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}
	dir := filepath.Join(t.TempDir(), "blobs")
	s, err := New(dir, v)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, dir
}

func TestPutGet_RoundTrip(t *testing.T) {
	s, dir := newTestStore(t)
	data := []byte("\x89PNG fake bitmap bytes")
	ref := clip.BlobRef(data)

	if err := s.Put(ref, data); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !s.Has(ref) {
		t.Fatal("Has = false after Put")
	}

	raw, err := os.ReadFile(filepath.Join(dir, ref+".bin"))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(raw, data) {
		t.Error("blob stored in plaintext")
	}

	got, err := s.Get(ref)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Get = %q, want %q", got, data)
	}

	// idempotent
	if err := s.Put(ref, data); err != nil {
		t.Errorf("second Put: %v", err)
	}
}

func TestGet_Missing(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Get(clip.BlobRef([]byte("nope")))
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
}

func TestInvalidRef(t *testing.T) {
	s, _ := newTestStore(t)
	for _, ref := range []string{"", "../../etc/passwd", "ABCDEF", clip.BlobRef(nil)[:10]} {
		if err := s.Put(ref, []byte("x")); !errors.Is(err, errors.ErrInvalidRequest) {
			t.Errorf("Put(%q) err = %v, want INVALID_REQUEST", ref, err)
		}
		if s.Has(ref) {
			t.Errorf("Has(%q) = true", ref)
		}
	}
}

func TestTamperedBlobFails(t *testing.T) {
	s, dir := newTestStore(t)
	data := []byte("bitmap")
	ref := clip.BlobRef(data)
	if err := s.Put(ref, data); err != nil {
		t.Fatal(err)
	}

	p := filepath.Join(dir, ref+".bin")
	raw, _ := os.ReadFile(p)
	raw[len(raw)-1] ^= 0xff
	if err := os.WriteFile(p, raw, 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Get(ref); !errors.Is(err, errors.ErrEncryptionFailure) {
		t.Errorf("err = %v, want ENCRYPTION_FAILURE", err)
	}
}

func TestRemoveAndSweep(t *testing.T) {
	s, dir := newTestStore(t)
	a, b, c := []byte("a"), []byte("b"), []byte("c")
	for _, d := range [][]byte{a, b, c} {
		if err := s.Put(clip.BlobRef(d), d); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "stale.123.tmp"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	if err := s.Remove(clip.BlobRef(a)); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(clip.BlobRef(a)); err != nil {
		t.Errorf("removing a missing blob should succeed: %v", err)
	}

	n, err := s.Sweep(map[string]bool{clip.BlobRef(b): true})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Sweep removed %d, want 2 (c and temp file)", n)
	}
	if !s.Has(clip.BlobRef(b)) || s.Has(clip.BlobRef(c)) {
		t.Error("Sweep kept the wrong blobs")
	}
}
