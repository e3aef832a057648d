package clip

import (
	"crypto/rand"
	"crypto/sha256"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a ULID for time t. IDs minted in the same millisecond are
// strictly increasing, so id order follows mint order. A record's created
// time can later move forward (dedup bump, remote bump) while its id stays,
// so history is ordered by created, never by id.
func NewID(t time.Time) (string, error) {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(t), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// IDTime extracts the embedded timestamp of a ULID string.
func IDTime(id string) (time.Time, bool) {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(u.Time()), true
}

// DerivedID returns a ULID for time t whose entropy is a hash of parts. Every
// device deriving from the same parts gets the same id.
func DerivedID(t time.Time, parts ...string) (string, error) {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	var id ulid.ULID
	if err := id.SetTime(ulid.Timestamp(t)); err != nil {
		return "", err
	}
	if err := id.SetEntropy(sum[:10]); err != nil {
		return "", err
	}
	return id.String(), nil
}
