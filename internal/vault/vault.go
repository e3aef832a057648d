// Package vault derives the store key and seals record payloads.
//
// The key is derived once per process with Argon2id and held only in memory.
// What is persisted is the keyring: salt, KDF parameters and a verifier
// (a sealed constant) that detects a wrong passphrase before any record is touched.
package vault

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	clerrors "github.com/hpungsan/clipkeep/internal/errors"
)

const (
	saltSize = 16
	keySize  = chacha20poly1305.KeySize
)

var verifierPlaintext = []byte("clipkeep-keyring-v1")
var verifierAD = []byte("keyring")

// ErrClosed is returned after Destroy.
var ErrClosed = errors.New("vault: key destroyed")

// Params are the Argon2id cost parameters.
type Params struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// DefaultParams are the parameters used for new keyrings.
var DefaultParams = Params{Time: 1, MemoryKiB: 64 * 1024, Threads: 4}

// Keyring is the persisted key-derivation record. It never contains the key.
type Keyring struct {
	Salt     []byte
	Params   Params
	Verifier []byte
}

// KeyringStore loads and saves the keyring. LoadKeyring returns nil, nil when absent.
type KeyringStore interface {
	LoadKeyring(ctx context.Context) (*Keyring, error)
	SaveKeyring(ctx context.Context, k *Keyring) error
}

// Vault seals and unseals payloads with XChaCha20-Poly1305.
type Vault struct {
	mu  sync.RWMutex
	key []byte
}

// Open derives the key for passphrase from the stored keyring, creating the
// keyring with params on first use. A passphrase that does not open the
// verifier yields WRONG_PASSPHRASE.
func Open(ctx context.Context, ks KeyringStore, passphrase string, params Params) (*Vault, error) {
	if passphrase == "" {
		return nil, clerrors.NewInvalidRequest("passphrase must not be empty")
	}

	kr, err := ks.LoadKeyring(ctx)
	if err != nil {
		return nil, fmt.Errorf("load keyring: %w", err)
	}

	if kr == nil {
		salt := make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, clerrors.NewEncryptionFailure(err)
		}
		v := derive(passphrase, salt, params)
		verifier, err := v.Seal(verifierPlaintext, verifierAD)
		if err != nil {
			return nil, err
		}
		if err := ks.SaveKeyring(ctx, &Keyring{Salt: salt, Params: params, Verifier: verifier}); err != nil {
			return nil, fmt.Errorf("save keyring: %w", err)
		}
		return v, nil
	}

	v := derive(passphrase, kr.Salt, kr.Params)
	if _, err := v.Unseal(kr.Verifier, verifierAD); err != nil {
		v.Destroy()
		return nil, clerrors.NewWrongPassphrase()
	}
	return v, nil
}

// New derives a vault from an explicit salt. Used for the shared sync key.
func New(passphrase string, salt []byte, params Params) (*Vault, error) {
	if passphrase == "" {
		return nil, clerrors.NewInvalidRequest("passphrase must not be empty")
	}
	if len(salt) < saltSize {
		return nil, clerrors.NewInvalidRequest("salt too short")
	}
	return derive(passphrase, salt, params), nil
}

// NewSalt returns fresh random salt bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

func derive(passphrase string, salt []byte, p Params) *Vault {
	key := argon2.IDKey([]byte(passphrase), salt, p.Time, p.MemoryKiB, p.Threads, keySize)
	return &Vault{key: key}
}

// Seal encrypts plaintext bound to ad. Output is nonce || ciphertext.
func (v *Vault) Seal(plaintext, ad []byte) ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.key == nil {
		return nil, clerrors.NewEncryptionFailure(ErrClosed)
	}

	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return nil, clerrors.NewEncryptionFailure(err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, clerrors.NewEncryptionFailure(err)
	}
	return aead.Seal(nonce, nonce, plaintext, ad), nil
}

// Unseal decrypts output of Seal. Tampering or a wrong ad fails authentication.
func (v *Vault) Unseal(sealed, ad []byte) ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.key == nil {
		return nil, clerrors.NewEncryptionFailure(ErrClosed)
	}

	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return nil, clerrors.NewEncryptionFailure(err)
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, clerrors.NewEncryptionFailure(errors.New("ciphertext too short"))
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, ad)
	if err != nil {
		return nil, clerrors.NewEncryptionFailure(err)
	}
	return pt, nil
}

// Destroy zeroes the key. Further Seal/Unseal calls fail.
func (v *Vault) Destroy() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.key {
		v.key[i] = 0
	}
	v.key = nil
}
