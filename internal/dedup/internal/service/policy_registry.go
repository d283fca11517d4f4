// Package service implements the deduplication engine: the policy registry,
// the dedup cache and the core service that ties them together with a
// periodic sweep.
package service

import (
	"log/slog"
	"sync"

	"github.com/SebastienMelki/notifyguard/internal/dedup/internal/domain"
)

// PolicyRegistry resolves the policy that applies to a (category, priority)
// pair. Reads see an immutable snapshot; updates are validated as a whole
// and swapped in atomically.
type PolicyRegistry struct {
	mu     sync.RWMutex
	config domain.Config
	logger *slog.Logger
}

// NewPolicyRegistry creates a registry holding cfg. The configuration must
// pass validation.
func NewPolicyRegistry(cfg domain.Config, logger *slog.Logger) (*PolicyRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &PolicyRegistry{
		config: cfg.Clone(),
		logger: logger.With("component", "policy-registry"),
	}, nil
}

// Resolve returns the policy for category and priority. A globally disabled
// configuration yields a disabled policy; an enabled category override wins
// over the priority tier.
func (r *PolicyRegistry) Resolve(category string, priority domain.Priority) domain.Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tier := r.config.TierPolicy(priority.Tier())
	if !r.config.Enabled {
		tier.Enabled = false
		return tier
	}

	if override, ok := r.config.Categories[domain.CategoryKey(category)]; ok && override.Enabled {
		return override
	}
	return tier
}

// Config returns a copy of the current configuration.
func (r *PolicyRegistry) Config() domain.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config.Clone()
}

// UpdateConfig applies update to a copy of the current configuration. If
// the result is invalid the error wraps domain.ErrInvalidConfig and the
// current configuration is kept unchanged.
func (r *PolicyRegistry) UpdateConfig(update domain.ConfigUpdate) (domain.Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := update.Apply(r.config)
	if err := next.Validate(); err != nil {
		r.logger.Warn("rejected policy update", "error", err)
		return r.config.Clone(), err
	}

	r.config = next
	r.logger.Info("policy configuration updated",
		"enabled", next.Enabled,
		"categories", len(next.Categories),
	)
	return next.Clone(), nil
}

// Replace swaps in cfg wholesale after validating it.
func (r *PolicyRegistry) Replace(cfg domain.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	r.config = cfg.Clone()
	r.mu.Unlock()
	return nil
}

// UpdateTier replaces the policy of a single tier. For the default tier only
// the global default values are replaced; the global enabled flag is not.
func (r *PolicyRegistry) UpdateTier(tier domain.Tier, p domain.Policy) (domain.Config, error) {
	if tier == domain.TierDefault {
		return r.UpdateConfig(domain.ConfigUpdate{
			DefaultTimeWindow:          &p.TimeWindow,
			DefaultSimilarityThreshold: &p.SimilarityThreshold,
			DefaultMaxDuplicates:       &p.MaxDuplicates,
		})
	}
	return r.UpdateConfig(domain.ConfigUpdate{Tiers: map[domain.Tier]domain.Policy{tier: p}})
}

// UpdateCategory replaces the override of a single category.
func (r *PolicyRegistry) UpdateCategory(category string, p domain.Policy) (domain.Config, error) {
	return r.UpdateConfig(domain.ConfigUpdate{Categories: map[string]domain.Policy{category: p}})
}
