package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/SebastienMelki/notifyguard/internal/dedup/internal/domain"
)

// Policy scopes stored in the policies table.
const (
	scopeTier     = "tier"
	scopeCategory = "category"
)

// settingsRowID is the id of the single policy_settings row.
const settingsRowID = 1

// PolicyRepository loads and saves the policy configuration.
type PolicyRepository struct {
	db *DB
}

// NewPolicyRepository creates a new policy repository.
func NewPolicyRepository(db *DB) *PolicyRepository {
	return &PolicyRepository{db: db}
}

// Load returns the stored configuration. The boolean is false when nothing
// has been saved yet.
func (r *PolicyRepository) Load(ctx context.Context) (domain.Config, bool, error) {
	var (
		cfg      domain.Config
		windowMs int64
	)

	err := r.db.inner.QueryRowContext(ctx, r.db.rebind(`
		SELECT enabled, default_time_window_ms, default_similarity_threshold, default_max_duplicates
		FROM policy_settings
		WHERE id = ?
	`), settingsRowID).Scan(
		&cfg.Enabled,
		&windowMs,
		&cfg.DefaultSimilarityThreshold,
		&cfg.DefaultMaxDuplicates,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Config{}, false, nil
	}
	if err != nil {
		return domain.Config{}, false, fmt.Errorf("load policy settings: %w", err)
	}
	cfg.DefaultTimeWindow = time.Duration(windowMs) * time.Millisecond
	cfg.Tiers = map[domain.Tier]domain.Policy{}
	cfg.Categories = map[string]domain.Policy{}

	rows, err := r.db.inner.QueryContext(ctx, `
		SELECT scope, name, enabled, time_window_ms, similarity_threshold, max_duplicates
		FROM policies
		ORDER BY scope, name
	`)
	if err != nil {
		return domain.Config{}, false, fmt.Errorf("load policies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			scope, name string
			p           domain.Policy
			ms          int64
		)
		if err := rows.Scan(&scope, &name, &p.Enabled, &ms, &p.SimilarityThreshold, &p.MaxDuplicates); err != nil {
			return domain.Config{}, false, fmt.Errorf("scan policy: %w", err)
		}
		p.TimeWindow = time.Duration(ms) * time.Millisecond

		switch scope {
		case scopeTier:
			cfg.Tiers[domain.Tier(name)] = p
		case scopeCategory:
			cfg.Categories[name] = p
		default:
			r.db.logger.Warn("ignoring policy with unknown scope", "scope", scope, "name", name)
		}
	}
	if err := rows.Err(); err != nil {
		return domain.Config{}, false, fmt.Errorf("iterate policies: %w", err)
	}

	return cfg, true, nil
}

// Save replaces the stored configuration in a single transaction.
func (r *PolicyRepository) Save(ctx context.Context, cfg domain.Config) error {
	tx, err := r.db.inner.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM policies"); err != nil {
		return fmt.Errorf("clear policies: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM policy_settings"); err != nil {
		return fmt.Errorf("clear policy settings: %w", err)
	}

	if _, err := tx.ExecContext(ctx, r.db.rebind(`
		INSERT INTO policy_settings (id, enabled, default_time_window_ms, default_similarity_threshold, default_max_duplicates, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`),
		settingsRowID,
		cfg.Enabled,
		cfg.DefaultTimeWindow.Milliseconds(),
		cfg.DefaultSimilarityThreshold,
		cfg.DefaultMaxDuplicates,
		time.Now().UnixMilli(),
	); err != nil {
		return fmt.Errorf("insert policy settings: %w", err)
	}

	insert := r.db.rebind(`
		INSERT INTO policies (scope, name, enabled, time_window_ms, similarity_threshold, max_duplicates)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	write := func(scope, name string, p domain.Policy) error {
		_, err := tx.ExecContext(ctx, insert,
			scope, name, p.Enabled, p.TimeWindow.Milliseconds(), p.SimilarityThreshold, p.MaxDuplicates)
		if err != nil {
			return fmt.Errorf("insert %s policy %q: %w", scope, name, err)
		}
		return nil
	}

	for tier, p := range cfg.Tiers {
		if err := write(scopeTier, string(tier), p); err != nil {
			return err
		}
	}
	for name, p := range cfg.Categories {
		if err := write(scopeCategory, name, p); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}

	r.db.logger.Debug("policy configuration saved",
		"tiers", len(cfg.Tiers),
		"categories", len(cfg.Categories),
	)
	return nil
}
