// Package domain holds API key types and the key format.
package domain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// KeyPrefix marks plaintext keys issued by this service.
const KeyPrefix = "ngk_"

// APIKey is a stored key record. Only the SHA256 of the plaintext is kept.
type APIKey struct {
	ID string

	// ClientID is the caller the key is issued to. It becomes the per-client
	// rate limit key once the request is authenticated.
	ClientID string

	KeyHash string

	// Name is a human-readable label, e.g. "checkout-service prod".
	Name string

	Revoked   bool
	CreatedAt time.Time
	RevokedAt *time.Time
}

// Active reports whether the key can authenticate requests.
func (k *APIKey) Active() bool {
	return k != nil && !k.Revoked
}

var keyRegex = regexp.MustCompile(`^` + KeyPrefix + `[0-9a-f]{64}$`)

// GenerateKey returns a new plaintext key (prefix plus 32 random bytes in
// hex) and its hash.
func GenerateKey() (plaintext string, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	plaintext = KeyPrefix + hex.EncodeToString(b)
	return plaintext, HashKey(plaintext), nil
}

// HashKey returns the lowercase hex SHA256 of a plaintext key. Keys carry
// 256 bits of entropy, so a fast hash is enough and keeps lookups indexed.
func HashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// ValidateKeyFormat reports whether key looks like a generated key.
func ValidateKeyFormat(key string) bool {
	return keyRegex.MatchString(key)
}

// NormalizeClientID trims surrounding whitespace from a client ID.
func NormalizeClientID(clientID string) string {
	return strings.TrimSpace(clientID)
}
