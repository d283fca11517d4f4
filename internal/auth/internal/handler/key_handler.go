// Package handler serves the admin API for API keys.
package handler

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/SebastienMelki/notifyguard/internal/auth/internal/domain"
	"github.com/SebastienMelki/notifyguard/internal/auth/internal/service"
)

// KeyHandler handles key create, revoke and list requests. Every route
// requires "Authorization: Bearer <admin token>".
type KeyHandler struct {
	service    *service.KeyService
	adminToken []byte
	logger     *slog.Logger
}

// NewKeyHandler creates a KeyHandler.
func NewKeyHandler(svc *service.KeyService, adminToken string, logger *slog.Logger) *KeyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyHandler{
		service:    svc,
		adminToken: []byte(adminToken),
		logger:     logger.With("component", "key-handler"),
	}
}

// RegisterRoutes mounts:
//   - POST   /v1/admin/keys
//   - GET    /v1/admin/keys?client_id=
//   - DELETE /v1/admin/keys/{id}
func (h *KeyHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("POST /v1/admin/keys", h.requireAdmin(h.handleCreate))
	mux.Handle("GET /v1/admin/keys", h.requireAdmin(h.handleList))
	mux.Handle("DELETE /v1/admin/keys/{id}", h.requireAdmin(h.handleRevoke))
}

func (h *KeyHandler) requireAdmin(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || len(h.adminToken) == 0 ||
			subtle.ConstantTimeCompare([]byte(token), h.adminToken) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid admin token"})
			return
		}
		next(w, r)
	})
}

type createKeyRequest struct {
	ClientID string `json:"client_id"`
	Name     string `json:"name"`
}

type keyResponse struct {
	ID        string     `json:"id"`
	ClientID  string     `json:"client_id"`
	Name      string     `json:"name"`
	Key       string     `json:"key,omitempty"`
	Revoked   bool       `json:"revoked"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

func toResponse(k *domain.APIKey) keyResponse {
	return keyResponse{
		ID:        k.ID,
		ClientID:  k.ClientID,
		Name:      k.Name,
		Revoked:   k.Revoked,
		CreatedAt: k.CreatedAt,
		RevokedAt: k.RevokedAt,
	}
}

func (h *KeyHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	plaintext, key, err := h.service.CreateKey(r.Context(), req.ClientID, req.Name)
	if errors.Is(err, domain.ErrEmptyClientID) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("failed to create API key", "client_id", req.ClientID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "failed to create API key"})
		return
	}

	resp := toResponse(key)
	resp.Key = plaintext
	writeJSON(w, http.StatusCreated, resp)
}

func (h *KeyHandler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	err := h.service.RevokeKey(r.Context(), id)
	if errors.Is(err, domain.ErrKeyNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: domain.ErrKeyNotFound.Error()})
		return
	}
	if err != nil {
		h.logger.Error("failed to revoke API key", "key_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "failed to revoke API key"})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *KeyHandler) handleList(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")

	keys, err := h.service.ListKeys(r.Context(), clientID)
	if errors.Is(err, domain.ErrEmptyClientID) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "client_id query parameter is required"})
		return
	}
	if err != nil {
		h.logger.Error("failed to list API keys", "client_id", clientID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "failed to list API keys"})
		return
	}

	items := make([]keyResponse, len(keys))
	for i := range keys {
		items[i] = toResponse(&keys[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"keys":  items,
		"count": len(items),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
