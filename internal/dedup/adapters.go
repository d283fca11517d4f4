package dedup

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/SebastienMelki/notifyguard/internal/dedup/internal/domain"
	"github.com/SebastienMelki/notifyguard/internal/dedup/internal/repo"
)

// Types shared with callers of the module.
type (
	Result       = domain.Result
	Policy       = domain.Policy
	PolicyConfig = domain.Config
	ConfigUpdate = domain.ConfigUpdate
	Priority     = domain.Priority
	Tier         = domain.Tier

	SimilarityMethod = domain.SimilarityMethod
	Comparison       = domain.Comparison
)

// Similarity methods accepted by Compare.
const (
	MethodJaroWinkler = domain.MethodJaroWinkler
	MethodCosine      = domain.MethodCosine
	MethodLevenshtein = domain.MethodLevenshtein
)

// ParseSimilarityMethod maps "jaro-winkler", "cosine" or "levenshtein" to a
// SimilarityMethod. The empty string selects Jaro-Winkler.
func ParseSimilarityMethod(name string) (SimilarityMethod, error) {
	return domain.ParseSimilarityMethod(name)
}

// Priorities accepted by CheckDuplicate. Any other value uses the toast tier.
const (
	PriorityLow    = domain.PriorityLow
	PriorityNormal = domain.PriorityNormal
	PriorityHigh   = domain.PriorityHigh
	PriorityUrgent = domain.PriorityUrgent
)

// Policy tiers.
const (
	TierDefault      = domain.TierDefault
	TierToast        = domain.TierToast
	TierNotification = domain.TierNotification
	TierUrgent       = domain.TierUrgent
)

// Notification is the content submitted for a duplicate check.
type Notification struct {
	ID       string   `json:"id,omitempty"`
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Category string   `json:"category,omitempty"`
	Priority Priority `json:"priority,omitempty"`
}

// Stats is a snapshot of the dedup module counters.
type Stats struct {
	TotalChecks         int64
	CacheHits           int64
	CacheMisses         int64
	BlockedRequests     int64
	AverageResponseTime time.Duration
	MemoryUsage         int
	QueueLength         int
	InFlight            int
	CacheSize           int
	Entries             int
	Capacity            int
}

// DefaultPolicyConfig returns the built-in policy configuration.
func DefaultPolicyConfig() PolicyConfig {
	return domain.DefaultConfig()
}

// NormalizeCategory returns the canonical form of a category name.
func NormalizeCategory(category string) string {
	return domain.NormalizeCategory(category)
}

// SQLPolicyStore is a PolicyStore backed by SQLite or PostgreSQL.
type SQLPolicyStore struct {
	db   *repo.DB
	repo *repo.PolicyRepository
}

// OpenPolicyStore connects to the configured database and applies pending
// migrations.
func OpenPolicyStore(ctx context.Context, cfg StoreConfig, logger *slog.Logger) (*SQLPolicyStore, error) {
	db, err := repo.Open(ctx, repo.Config{
		Driver:          cfg.Driver,
		Path:            cfg.Path,
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	return &SQLPolicyStore{db: db, repo: repo.NewPolicyRepository(db)}, nil
}

// Load returns the stored configuration and whether one was found.
func (s *SQLPolicyStore) Load(ctx context.Context) (PolicyConfig, bool, error) {
	return s.repo.Load(ctx)
}

// Save replaces the stored configuration.
func (s *SQLPolicyStore) Save(ctx context.Context, cfg PolicyConfig) error {
	return s.repo.Save(ctx, cfg)
}

// Ping checks the database connection.
func (s *SQLPolicyStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// DB returns the database handle so other modules can keep their tables in
// the same database.
func (s *SQLPolicyStore) DB() *sql.DB {
	return s.db.SQL()
}

// Driver returns "sqlite" or "postgres".
func (s *SQLPolicyStore) Driver() string {
	return s.db.Driver()
}

// Close closes the database connection.
func (s *SQLPolicyStore) Close() error {
	return s.db.Close()
}
