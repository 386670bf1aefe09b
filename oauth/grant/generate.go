package grant

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GenerateToken returns 32 random bytes, hex encoded. It is used for access
// tokens, refresh tokens and authorization codes.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
