// Package repo stores API keys in the SQLite or PostgreSQL database shared
// with the policy store.
package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/SebastienMelki/notifyguard/internal/auth/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS api_keys (
    id TEXT PRIMARY KEY,
    client_id TEXT NOT NULL,
    key_hash TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    revoked BOOLEAN NOT NULL DEFAULT FALSE,
    created_at BIGINT NOT NULL,
    revoked_at BIGINT
);

CREATE INDEX IF NOT EXISTS idx_api_keys_client_id ON api_keys(client_id);
`

const keyColumns = `id, client_id, key_hash, name, revoked, created_at, revoked_at`

// KeyRepository implements the key store on database/sql.
type KeyRepository struct {
	db       *sql.DB
	postgres bool
}

// NewKeyRepository wraps db. driver is "sqlite" or "postgres" and selects
// the placeholder style.
func NewKeyRepository(db *sql.DB, driver string) *KeyRepository {
	return &KeyRepository{db: db, postgres: driver == "postgres"}
}

// Migrate creates the api_keys table if it does not exist.
func (r *KeyRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate api_keys: %w", err)
	}
	return nil
}

// FindByHash returns the key with the given hash, revoked or not, or nil
// when none matches.
func (r *KeyRepository) FindByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`
		SELECT `+keyColumns+`
		FROM api_keys
		WHERE key_hash = ?
	`), keyHash)

	key, err := scanKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query api key by hash: %w", err)
	}
	return key, nil
}

// Create inserts a new key record. A zero CreatedAt is set to now.
func (r *KeyRepository) Create(ctx context.Context, key *domain.APIKey) error {
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO api_keys (id, client_id, key_hash, name, revoked, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), key.ID, key.ClientID, key.KeyHash, key.Name, false, key.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert api key: %w", err)
	}
	return nil
}

// Revoke marks a key revoked. Revoking twice keeps the first revoked_at.
func (r *KeyRepository) Revoke(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, r.rebind(`
		UPDATE api_keys SET revoked = ?, revoked_at = COALESCE(revoked_at, ?)
		WHERE id = ?
	`), true, time.Now().UTC().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", domain.ErrKeyNotFound, id)
	}
	return nil
}

// ListByClientID returns the client's keys, newest first.
func (r *KeyRepository) ListByClientID(ctx context.Context, clientID string) ([]domain.APIKey, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT `+keyColumns+`
		FROM api_keys
		WHERE client_id = ?
		ORDER BY created_at DESC, id DESC
	`), clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query api keys by client_id: %w", err)
	}
	defer rows.Close()

	var keys []domain.APIKey
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, *key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating api keys: %w", err)
	}
	return keys, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanKey(s scanner) (*domain.APIKey, error) {
	var (
		key       domain.APIKey
		createdAt int64
		revokedAt sql.NullInt64
	)
	if err := s.Scan(
		&key.ID,
		&key.ClientID,
		&key.KeyHash,
		&key.Name,
		&key.Revoked,
		&createdAt,
		&revokedAt,
	); err != nil {
		return nil, err
	}

	key.CreatedAt = time.UnixMilli(createdAt).UTC()
	if revokedAt.Valid {
		t := time.UnixMilli(revokedAt.Int64).UTC()
		key.RevokedAt = &t
	}
	return &key, nil
}

func (r *KeyRepository) rebind(query string) string {
	if !r.postgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}
