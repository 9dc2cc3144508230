package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashUserKey returns a fixed-length hex digest of a caller-supplied key.
func HashUserKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
