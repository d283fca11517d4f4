package repo

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/SebastienMelki/notifyguard/internal/auth/internal/domain"
)

func newTestRepo(t *testing.T) *KeyRepository {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "keys.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	r := NewKeyRepository(db, "sqlite")
	if err := r.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}
	return r
}

func TestKeyRepository_CreateAndFind(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	key := &domain.APIKey{ID: "k1", ClientID: "billing", KeyHash: "h1", Name: "prod"}
	if err := r.Create(ctx, key); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	got, err := r.FindByHash(ctx, "h1")
	if err != nil {
		t.Fatalf("FindByHash() error: %v", err)
	}
	if got == nil {
		t.Fatal("FindByHash() returned nil for a stored key")
	}
	if got.ID != "k1" || got.ClientID != "billing" || got.Name != "prod" || got.Revoked {
		t.Errorf("FindByHash() = %+v", got)
	}
	if got.CreatedAt.UnixMilli() != key.CreatedAt.UnixMilli() {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, key.CreatedAt)
	}
	if got.RevokedAt != nil {
		t.Error("RevokedAt should be nil for an active key")
	}
}

func TestKeyRepository_FindByHashUnknown(t *testing.T) {
	r := newTestRepo(t)

	got, err := r.FindByHash(context.Background(), "missing")
	if err != nil || got != nil {
		t.Fatalf("FindByHash() = %v, %v; want nil, nil", got, err)
	}
}

func TestKeyRepository_DuplicateHash(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	if err := r.Create(ctx, &domain.APIKey{ID: "k1", ClientID: "a", KeyHash: "h", Name: "x"}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := r.Create(ctx, &domain.APIKey{ID: "k2", ClientID: "a", KeyHash: "h", Name: "y"}); err == nil {
		t.Error("Create() should reject a duplicate key hash")
	}
}

func TestKeyRepository_Revoke(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	if err := r.Create(ctx, &domain.APIKey{ID: "k1", ClientID: "billing", KeyHash: "h1", Name: "prod"}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if err := r.Revoke(ctx, "k1"); err != nil {
		t.Fatalf("Revoke() error: %v", err)
	}
	first, err := r.FindByHash(ctx, "h1")
	if err != nil {
		t.Fatalf("FindByHash() error: %v", err)
	}
	if !first.Revoked || first.RevokedAt == nil {
		t.Fatalf("key not marked revoked: %+v", first)
	}

	time.Sleep(5 * time.Millisecond)
	if err := r.Revoke(ctx, "k1"); err != nil {
		t.Fatalf("second Revoke() error: %v", err)
	}
	second, _ := r.FindByHash(ctx, "h1")
	if !second.RevokedAt.Equal(*first.RevokedAt) {
		t.Errorf("revoked_at changed on second revoke: %v -> %v", first.RevokedAt, second.RevokedAt)
	}

	if err := r.Revoke(ctx, "missing"); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Errorf("Revoke(missing) error = %v, want ErrKeyNotFound", err)
	}
}

func TestKeyRepository_ListByClientID(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	keys := []*domain.APIKey{
		{ID: "k1", ClientID: "billing", KeyHash: "h1", Name: "old", CreatedAt: base},
		{ID: "k2", ClientID: "billing", KeyHash: "h2", Name: "new", CreatedAt: base.Add(time.Hour)},
		{ID: "k3", ClientID: "search", KeyHash: "h3", Name: "other", CreatedAt: base},
	}
	for _, k := range keys {
		if err := r.Create(ctx, k); err != nil {
			t.Fatalf("Create(%s) error: %v", k.ID, err)
		}
	}

	got, err := r.ListByClientID(ctx, "billing")
	if err != nil {
		t.Fatalf("ListByClientID() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListByClientID() returned %d keys, want 2", len(got))
	}
	if got[0].ID != "k2" || got[1].ID != "k1" {
		t.Errorf("order = [%s %s], want newest first [k2 k1]", got[0].ID, got[1].ID)
	}

	none, err := r.ListByClientID(ctx, "nobody")
	if err != nil || len(none) != 0 {
		t.Errorf("ListByClientID(nobody) = %v, %v", none, err)
	}
}

func TestKeyRepository_RebindPostgres(t *testing.T) {
	r := &KeyRepository{postgres: true}
	got := r.rebind("UPDATE t SET a = ?, b = ? WHERE id = ?")
	want := "UPDATE t SET a = $1, b = $2 WHERE id = $3"
	if got != want {
		t.Errorf("rebind() = %q, want %q", got, want)
	}
}
