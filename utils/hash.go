package utils

import (
	"crypto/sha1"
	"encoding/hex"
)

// MakeHash returns hash string from plain text
func MakeHash(s string) string {
	hashBytes := sha1.Sum([]byte(s))
	return hex.EncodeToString(hashBytes[:])
}
