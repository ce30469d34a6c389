// Package fingerprint computes content digests of uploaded images.
//
// The digest is an exact-duplicate guard only: a re-encoded, resized or
// cropped copy of the same photo produces a different digest.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex SHA-256 digest of b.
func Sum(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}
