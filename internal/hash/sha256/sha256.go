// Package sha256 fingerprints fetched leaderboard content.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements staleness.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex digest of data. Identical bytes always yield
// identical fingerprints; the empty string is never returned.
func (h *Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
