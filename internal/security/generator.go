package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// passwordCharset avoids characters that break SQL quoting and connection
// strings (+, /, = are excluded on purpose)
const passwordCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GeneratePassword returns a cryptographically random password of the given
// length, safe to embed in connection strings
func GeneratePassword(length int) (string, error) {
	if length <= 0 {
		length = 32
	}

	// Bytes at or above the largest multiple of the charset size are rejected
	// so every character is equally likely
	limit := byte(256 - 256%len(passwordCharset))

	password := make([]byte, 0, length)
	buf := make([]byte, length)
	for len(password) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %v", err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			password = append(password, passwordCharset[int(b)%len(passwordCharset)])
			if len(password) == length {
				break
			}
		}
	}
	return string(password), nil
}

// GenerateAPIKey returns an opaque customer API key. The key carries no
// customer ID or timestamp; ownership is resolved through the registry.
func GenerateAPIKey() (string, error) {
	random := make([]byte, 16)
	if _, err := rand.Read(random); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %v", err)
	}

	// uuid + random bytes: 48 hex chars of entropy behind the prefix
	id := uuid.New()
	return "sk_live_" + hex.EncodeToString(id[:]) + hex.EncodeToString(random), nil
}
