// Package token implements generation, encoding and hashing of the
// gateway's programmatic access tokens. Tokens are random Base58 strings
// carrying a fixed version prefix; only their SHA-256 digest is ever
// persisted.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

const (
	// AccessTokenPrefix marks v1 programmatic access tokens.
	AccessTokenPrefix = "mcp_v1_"
	// IDPrefix marks non-secret token identifiers.
	IDPrefix = "tok_"

	accessTokenBytes = 32
	tokenIDBytes     = 16
)

// NewAccessToken returns a fresh access token: 32 bytes from crypto/rand,
// Base58-encoded with the Bitcoin alphabet, prefixed with AccessTokenPrefix.
// The raw value is a secret and must never be stored.
func NewAccessToken() (string, error) {
	return random(AccessTokenPrefix, accessTokenBytes)
}

// NewID returns a fresh non-secret token identifier (16 random bytes,
// Base58, "tok_" prefix).
func NewID() (string, error) {
	return random(IDPrefix, tokenIDBytes)
}

func random(prefix string, n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return encode(prefix, buf), nil
}

// encode is split out from random so the zero-run behaviour of the Base58
// alphabet can be tested against fixed input.
func encode(prefix string, raw []byte) string {
	return prefix + base58.Encode(raw)
}

// Hash returns the lower-case hex SHA-256 digest of a token. The digest is
// the sole storage key for the token's record.
func Hash(token string) string {
	hasher := sha256.New()
	hasher.Write([]byte(token))
	hashedBytes := hasher.Sum(nil)
	return hex.EncodeToString(hashedBytes)
}

// ConstantTimeEqual compares two strings without a data-dependent early
// exit. The length check leaks only the length, which is not secret for
// fixed-width digests and identifiers.
func ConstantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// IsWellFormed reports whether a submitted value carries the v1 access
// token prefix. It runs before any hashing or storage access so malformed
// input never reaches the store layer.
func IsWellFormed(token string) bool {
	return strings.HasPrefix(token, AccessTokenPrefix) && len(token) > len(AccessTokenPrefix)
}
