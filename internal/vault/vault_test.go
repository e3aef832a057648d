package vault

import (
	"bytes"
	"context"
	"testing"

	clerrors "github.com/hpungsan/clipkeep/internal/errors"
)

var testParams = Params{Time: 1, MemoryKiB: 8 * 1024, Threads: 1}

type memKeyring struct {
	kr    *Keyring
	saves int
}

func (m *memKeyring) LoadKeyring(context.Context) (*Keyring, error) { return m.kr, nil }

func (m *memKeyring) SaveKeyring(_ context.Context, k *Keyring) error {
	m.kr = k
	m.saves++
	return nil
}

func TestOpen_CreatesKeyringOnce(t *testing.T) {
	ctx := context.Background()
	ks := &memKeyring{}

	v1, err := Open(ctx, ks, "correct horse", testParams)
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}
	if ks.saves != 1 || ks.kr == nil {
		t.Fatalf("keyring not saved")
	}
	if len(ks.kr.Salt) != saltSize {
		t.Errorf("salt length = %d", len(ks.kr.Salt))
	}

	sealed, err := v1.Seal([]byte("secret"), []byte("id-1"))
	if err != nil {
		t.Fatalf("Seal error = %v", err)
	}

	v2, err := Open(ctx, ks, "correct horse", testParams)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	if ks.saves != 1 {
		t.Errorf("keyring saved again on reopen")
	}
	pt, err := v2.Unseal(sealed, []byte("id-1"))
	if err != nil {
		t.Fatalf("Unseal with re-derived key error = %v", err)
	}
	if string(pt) != "secret" {
		t.Errorf("plaintext = %q", pt)
	}
}

func TestOpen_WrongPassphrase(t *testing.T) {
	ctx := context.Background()
	ks := &memKeyring{}
	if _, err := Open(ctx, ks, "right", testParams); err != nil {
		t.Fatal(err)
	}
	_, err := Open(ctx, ks, "wrong", testParams)
	if !clerrors.Is(err, clerrors.ErrWrongPassphrase) {
		t.Fatalf("err = %v, want WRONG_PASSPHRASE", err)
	}
}

func TestOpen_EmptyPassphrase(t *testing.T) {
	_, err := Open(context.Background(), &memKeyring{}, "", testParams)
	if !clerrors.Is(err, clerrors.ErrInvalidRequest) {
		t.Fatalf("err = %v, want INVALID_REQUEST", err)
	}
}

func TestSealUnseal_RoundTrip(t *testing.T) {
	salt, _ := NewSalt()
	v, err := New("pw", salt, testParams)
	if err != nil {
		t.Fatal(err)
	}

	inputs := [][]byte{
		{},
		[]byte("hello world"),
		bytes.Repeat([]byte{0xff, 0x00}, 4096),
	}
	for _, in := range inputs {
		sealed, err := v.Seal(in, []byte("ad"))
		if err != nil {
			t.Fatalf("Seal error = %v", err)
		}
		if len(in) > 0 && bytes.Contains(sealed, in) {
			t.Error("ciphertext contains plaintext")
		}
		out, err := v.Unseal(sealed, []byte("ad"))
		if err != nil {
			t.Fatalf("Unseal error = %v", err)
		}
		if !bytes.Equal(in, out) {
			t.Errorf("round trip mismatch")
		}
	}
}

func TestSeal_NonceIsRandom(t *testing.T) {
	salt, _ := NewSalt()
	v, _ := New("pw", salt, testParams)
	a, _ := v.Seal([]byte("same"), nil)
	b, _ := v.Seal([]byte("same"), nil)
	if bytes.Equal(a, b) {
		t.Error("two seals of the same plaintext should differ")
	}
}

func TestUnseal_Failures(t *testing.T) {
	salt, _ := NewSalt()
	v, _ := New("pw", salt, testParams)
	sealed, _ := v.Seal([]byte("payload"), []byte("id-1"))

	if _, err := v.Unseal(sealed, []byte("id-2")); !clerrors.Is(err, clerrors.ErrEncryptionFailure) {
		t.Errorf("wrong ad: err = %v", err)
	}

	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 1
	if _, err := v.Unseal(tampered, []byte("id-1")); !clerrors.Is(err, clerrors.ErrEncryptionFailure) {
		t.Errorf("tampered: err = %v", err)
	}

	if _, err := v.Unseal([]byte("short"), nil); !clerrors.Is(err, clerrors.ErrEncryptionFailure) {
		t.Errorf("short: err = %v", err)
	}

	other, _ := New("other", salt, testParams)
	if _, err := other.Unseal(sealed, []byte("id-1")); err == nil {
		t.Error("different key should not open")
	}
}

func TestDestroy(t *testing.T) {
	salt, _ := NewSalt()
	v, _ := New("pw", salt, testParams)
	v.Destroy()
	if _, err := v.Seal([]byte("x"), nil); !clerrors.Is(err, clerrors.ErrEncryptionFailure) {
		t.Errorf("Seal after Destroy: err = %v", err)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", make([]byte, saltSize), testParams); err == nil {
		t.Error("expected error for empty passphrase")
	}
	if _, err := New("pw", []byte("x"), testParams); err == nil {
		t.Error("expected error for short salt")
	}
}
