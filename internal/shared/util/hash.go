package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentSHA256 returns the lowercase hex SHA-256 of data.
func ContentSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
