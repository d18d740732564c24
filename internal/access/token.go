// Package access implements the bearer-capability gate: possession of a
// transfer ID plus its access token is what authorizes reads.
package access

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
)

const tokenEntropyBytes = 32

// GenerateToken returns an opaque URL-safe access token with 256 bits of
// entropy.
func GenerateToken() (string, error) {
	raw := make([]byte, tokenEntropyBytes)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("generating access token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// VerifyToken compares a presented token against the stored one in constant
// time.
func VerifyToken(presented, stored string) bool {
	return subtle.ConstantTimeCompare([]byte(presented), []byte(stored)) == 1
}
