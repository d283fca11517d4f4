package auth

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/SebastienMelki/notifyguard/internal/auth/internal/handler"
	"github.com/SebastienMelki/notifyguard/internal/auth/internal/repo"
	"github.com/SebastienMelki/notifyguard/internal/auth/internal/service"
)

var _ KeyStore = (*repo.KeyRepository)(nil)

// Module is the auth module facade.
type Module struct {
	cfg     Config
	service *service.KeyService
	repo    *repo.KeyRepository
	handler *handler.KeyHandler
	logger  *slog.Logger
}

// New builds the module on db. driver is "sqlite" or "postgres".
// Call Migrate before serving requests.
func New(db *sql.DB, driver string, cfg Config, logger *slog.Logger) *Module {
	if logger == nil {
		logger = slog.Default()
	}

	keyRepo := repo.NewKeyRepository(db, driver)
	keySvc := service.NewKeyService(keyRepo, logger)

	return &Module{
		cfg:     cfg,
		service: keySvc,
		repo:    keyRepo,
		handler: handler.NewKeyHandler(keySvc, cfg.AdminToken, logger),
		logger:  logger.With("component", "auth-module"),
	}
}

// Migrate creates the api_keys table if needed.
func (m *Module) Migrate(ctx context.Context) error {
	return m.repo.Migrate(ctx)
}

// CreateKey issues a key for clientID and returns the plaintext, which
// cannot be retrieved again.
func (m *Module) CreateKey(ctx context.Context, clientID, name string) (string, *APIKey, error) {
	return m.service.CreateKey(ctx, clientID, name)
}

// RevokeKey revokes a key by ID.
func (m *Module) RevokeKey(ctx context.Context, id string) error {
	return m.service.RevokeKey(ctx, id)
}

// ListKeys returns the keys issued to clientID.
func (m *Module) ListKeys(ctx context.Context, clientID string) ([]APIKey, error) {
	return m.service.ListKeys(ctx, clientID)
}

// AuthMiddleware rejects requests without a valid X-API-Key and stores the
// key's client ID in the request context.
func (m *Module) AuthMiddleware() func(http.Handler) http.Handler {
	return m.authMiddleware()
}

// RegisterAdminRoutes mounts the key management API under /v1/admin/keys.
// Nothing is mounted without an admin token.
func (m *Module) RegisterAdminRoutes(mux *http.ServeMux) {
	if m.cfg.AdminToken == "" {
		m.logger.Warn("AUTH_ADMIN_TOKEN not set, key management API disabled")
		return
	}
	m.handler.RegisterRoutes(mux)
}
