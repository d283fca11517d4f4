package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
)

// publicPrefixes skip API key checks. Admin routes carry their own token.
var publicPrefixes = []string{"/health", "/ready", "/metrics", "/v1/admin/"}

func isPublic(path string) bool {
	return slices.ContainsFunc(publicPrefixes, func(p string) bool {
		return strings.HasPrefix(path, p)
	})
}

func (m *Module) authMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublic(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			plaintext := r.Header.Get(HeaderAPIKey)
			if plaintext == "" {
				unauthorized(w, "missing API key")
				return
			}

			key, err := m.service.Authenticate(r.Context(), plaintext)
			switch {
			case err != nil:
				m.logger.Error("API key lookup failed", "error", err, "path", r.URL.Path)
				unauthorized(w, "invalid API key")
				return
			case key == nil:
				unauthorized(w, "invalid API key")
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ClientIDContextKey, key.ClientID)))
		})
	}
}

// GetClientID returns the authenticated client ID, or "" for
// unauthenticated requests.
func GetClientID(ctx context.Context) string {
	id, _ := ctx.Value(ClientIDContextKey).(string)
	return id
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
