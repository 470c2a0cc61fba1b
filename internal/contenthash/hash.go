// Package contenthash computes the canonical fingerprint of lesson text.
// The same hash is used for analysis persistence and the queue's
// idempotency gate, so unchanged content is detected regardless of
// whitespace or casing drift.
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Normalize trims, collapses all whitespace runs to single spaces and
// lowercases the text.
func Normalize(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// Hash returns the hex-encoded SHA-256 digest of the normalized text.
func Hash(text string) string {
	h := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(h[:])
}
