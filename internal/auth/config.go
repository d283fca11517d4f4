package auth

// Config holds API key authentication configuration. Keys live in the
// policy store database, so auth requires DEDUP_STORE_ENABLED.
type Config struct {
	// Enabled requires a valid X-API-Key on every /v1 route
	Enabled bool `env:"AUTH_ENABLED" envDefault:"false"`

	// AdminToken guards /v1/admin/keys. Admin routes are not mounted when empty.
	AdminToken string `env:"AUTH_ADMIN_TOKEN"`
}
