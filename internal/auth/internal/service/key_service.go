// Package service implements API key issue, validation and revocation.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/SebastienMelki/notifyguard/internal/auth/internal/domain"
)

// KeyStore persists key records. FindByHash returns nil, nil for an
// unknown hash.
type KeyStore interface {
	FindByHash(ctx context.Context, keyHash string) (*domain.APIKey, error)
	Create(ctx context.Context, key *domain.APIKey) error
	Revoke(ctx context.Context, id string) error
	ListByClientID(ctx context.Context, clientID string) ([]domain.APIKey, error)
}

// KeyService manages API keys.
type KeyService struct {
	store  KeyStore
	logger *slog.Logger
}

// NewKeyService creates a KeyService.
func NewKeyService(store KeyStore, logger *slog.Logger) *KeyService {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyService{
		store:  store,
		logger: logger.With("component", "key-service"),
	}
}

// Authenticate resolves a plaintext key to its active record. It returns
// nil, nil for malformed, unknown or revoked keys.
func (s *KeyService) Authenticate(ctx context.Context, plaintext string) (*domain.APIKey, error) {
	if !domain.ValidateKeyFormat(plaintext) {
		return nil, nil
	}

	key, err := s.store.FindByHash(ctx, domain.HashKey(plaintext))
	if err != nil {
		return nil, fmt.Errorf("failed to find key: %w", err)
	}
	if key == nil {
		return nil, nil
	}

	if !key.Active() {
		s.logger.Warn("attempt to use revoked key",
			"key_id", key.ID,
			"client_id", key.ClientID,
		)
		return nil, nil
	}
	return key, nil
}

// CreateKey issues a key for clientID. The plaintext is returned once and
// never stored.
func (s *KeyService) CreateKey(ctx context.Context, clientID, name string) (string, *domain.APIKey, error) {
	clientID = domain.NormalizeClientID(clientID)
	if clientID == "" {
		return "", nil, domain.ErrEmptyClientID
	}

	plaintext, hash, err := domain.GenerateKey()
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate key: %w", err)
	}

	key := &domain.APIKey{
		ID:       uuid.Must(uuid.NewV7()).String(),
		ClientID: clientID,
		KeyHash:  hash,
		Name:     name,
	}
	if err := s.store.Create(ctx, key); err != nil {
		return "", nil, fmt.Errorf("failed to store key: %w", err)
	}

	s.logger.Info("api key created",
		"key_id", key.ID,
		"client_id", clientID,
		"name", name,
	)
	return plaintext, key, nil
}

// RevokeKey revokes a key by ID.
func (s *KeyService) RevokeKey(ctx context.Context, id string) error {
	if err := s.store.Revoke(ctx, id); err != nil {
		return fmt.Errorf("failed to revoke key: %w", err)
	}

	s.logger.Info("api key revoked", "key_id", id)
	return nil
}

// ListKeys returns the keys issued to clientID.
func (s *KeyService) ListKeys(ctx context.Context, clientID string) ([]domain.APIKey, error) {
	clientID = domain.NormalizeClientID(clientID)
	if clientID == "" {
		return nil, domain.ErrEmptyClientID
	}

	keys, err := s.store.ListByClientID(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return keys, nil
}
