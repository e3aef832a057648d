package clip

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"sort"
	"strings"
)

// NormalizeText canonicalizes line endings and strips trailing whitespace.
// Leading whitespace is significant (indentation in code).
func NormalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimRight(s, " \t\n")
}

// Fingerprint returns the hex SHA-256 of normalized content.
// Text, JSON and Code share a namespace so re-classification keeps the digest stable.
func Fingerprint(c Content) string {
	h := sha256.New()
	switch v := c.(type) {
	case Text:
		h.Write([]byte("text\x00"))
		h.Write([]byte(NormalizeText(v.Text)))
	case JSON:
		h.Write([]byte("text\x00"))
		h.Write([]byte(NormalizeText(v.Text)))
	case Code:
		h.Write([]byte("text\x00"))
		h.Write([]byte(NormalizeText(v.Text)))
	case Image:
		h.Write([]byte("image\x00"))
		h.Write([]byte(v.BlobRef))
	case Files:
		paths := make([]string, 0, len(v.Items))
		for _, it := range v.Items {
			paths = append(paths, filepath.Clean(it.Path))
		}
		sort.Strings(paths)
		h.Write([]byte("files\x00"))
		h.Write([]byte(strings.Join(paths, "\n")))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// BlobRef returns the content address used for out-of-line binary payloads.
func BlobRef(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
