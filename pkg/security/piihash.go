package security

import (
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

var ErrKeyRequired = errors.New("pii hash key required")

// PIIHasher derives a deterministic match key from patient demographics so
// that lookups never compare cleartext PII. The key is secret per
// deployment; without it the stored hashes are not linkable.
type PIIHasher interface {
	MatchKey(lastName, firstName string, dob time.Time) string
}

type blake2bHasher struct {
	key []byte
}

// NewPIIHasher creates a keyed BLAKE2b match-key hasher.
func NewPIIHasher(key string) (PIIHasher, error) {
	if key == "" {
		return nil, ErrKeyRequired
	}
	// blake2b keys are capped at 64 bytes
	raw := []byte(key)
	if len(raw) > 64 {
		raw = raw[:64]
	}
	return &blake2bHasher{key: raw}, nil
}

func (h *blake2bHasher) MatchKey(lastName, firstName string, dob time.Time) string {
	mac, err := blake2b.New256(h.key)
	if err != nil {
		// key length is validated in the constructor
		panic(err)
	}
	mac.Write([]byte(normalize(lastName)))
	mac.Write([]byte{0})
	mac.Write([]byte(normalize(firstName)))
	mac.Write([]byte{0})
	mac.Write([]byte(dob.UTC().Format("2006-01-02")))
	return hex.EncodeToString(mac.Sum(nil))
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), " ")
}
