// Package auth authenticates gateway callers with API keys. Each key is
// issued to a client ID, which downstream middleware reads from the request
// context.
package auth

import (
	"context"

	"github.com/SebastienMelki/notifyguard/internal/auth/internal/domain"
)

// APIKey is a stored key record. The plaintext is never kept.
type APIKey = domain.APIKey

// KeyStore persists API keys.
type KeyStore interface {
	// FindByHash returns the key with the given SHA256 hash, or nil.
	FindByHash(ctx context.Context, keyHash string) (*APIKey, error)

	Create(ctx context.Context, key *APIKey) error

	// Revoke marks a key revoked. Unknown IDs return ErrKeyNotFound.
	Revoke(ctx context.Context, id string) error

	// ListByClientID returns the client's keys, newest first.
	ListByClientID(ctx context.Context, clientID string) ([]APIKey, error)
}

// HeaderAPIKey carries the plaintext key.
const HeaderAPIKey = "X-API-Key"

type contextKey string

// ClientIDContextKey holds the authenticated client ID.
const ClientIDContextKey contextKey = "client_id"

var (
	// ErrKeyNotFound is returned when revoking an unknown key.
	ErrKeyNotFound = domain.ErrKeyNotFound

	// ErrEmptyClientID is returned when a key is requested without a client.
	ErrEmptyClientID = domain.ErrEmptyClientID
)
