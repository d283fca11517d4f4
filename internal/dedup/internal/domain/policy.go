package domain

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"
)

// Sentinel errors for policy and configuration validation.
var (
	ErrInvalidPolicy = errors.New("invalid dedup policy")
	ErrInvalidConfig = errors.New("invalid dedup configuration")
)

// Tier names a built-in policy tier.
type Tier string

// The four built-in tiers. TierDefault is backed by the global defaults of
// Config; the other three carry their own policies.
const (
	TierDefault      Tier = "default"
	TierToast        Tier = "toast"
	TierNotification Tier = "notification"
	TierUrgent       Tier = "urgent"
)

// Valid reports whether t is one of the built-in tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierDefault, TierToast, TierNotification, TierUrgent:
		return true
	}
	return false
}

// Priority is the caller-supplied notification priority.
type Priority string

// Known priorities.
const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Tier maps a priority to its policy tier. Unknown priorities fall back to
// the toast tier.
func (p Priority) Tier() Tier {
	switch Priority(strings.ToLower(strings.TrimSpace(string(p)))) {
	case PriorityLow:
		return TierDefault
	case PriorityHigh:
		return TierNotification
	case PriorityUrgent:
		return TierUrgent
	default:
		return TierToast
	}
}

// Policy governs deduplication for one tier or category.
type Policy struct {
	Enabled             bool          `yaml:"enabled"`
	TimeWindow          time.Duration `yaml:"time_window"`
	SimilarityThreshold float64       `yaml:"similarity_threshold"`
	MaxDuplicates       int           `yaml:"max_duplicates"`
}

// Validate checks the policy invariants: a positive time window and
// duplicate cap, and a similarity threshold within [0,1].
func (p Policy) Validate() error {
	var errs []error
	if p.TimeWindow <= 0 {
		errs = append(errs, fmt.Errorf("time window must be positive, got %s", p.TimeWindow))
	}
	if p.SimilarityThreshold < 0 || p.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("similarity threshold must be in [0,1], got %g", p.SimilarityThreshold))
	}
	if p.MaxDuplicates < 1 {
		errs = append(errs, fmt.Errorf("max duplicates must be at least 1, got %d", p.MaxDuplicates))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidPolicy, errors.Join(errs...))
	}
	return nil
}

// Config is the complete policy configuration consumed by the registry.
type Config struct {
	Enabled                    bool              `yaml:"enabled"`
	DefaultTimeWindow          time.Duration     `yaml:"default_time_window"`
	DefaultSimilarityThreshold float64           `yaml:"default_similarity_threshold"`
	DefaultMaxDuplicates       int               `yaml:"default_max_duplicates"`
	Tiers                      map[Tier]Policy   `yaml:"tiers"`
	Categories                 map[string]Policy `yaml:"categories"`
}

// DefaultConfig returns the built-in configuration: dedup enabled, global
// defaults of 60s/0.85/1 and the toast, notification and urgent tiers.
func DefaultConfig() Config {
	return Config{
		Enabled:                    true,
		DefaultTimeWindow:          60 * time.Second,
		DefaultSimilarityThreshold: 0.85,
		DefaultMaxDuplicates:       1,
		Tiers: map[Tier]Policy{
			TierToast: {
				Enabled:             true,
				TimeWindow:          30 * time.Second,
				SimilarityThreshold: 0.85,
				MaxDuplicates:       1,
			},
			TierNotification: {
				Enabled:             true,
				TimeWindow:          120 * time.Second,
				SimilarityThreshold: 0.90,
				MaxDuplicates:       2,
			},
			TierUrgent: {
				Enabled:             true,
				TimeWindow:          600 * time.Second,
				SimilarityThreshold: 0.95,
				MaxDuplicates:       1,
			},
		},
		Categories: map[string]Policy{},
	}
}

// DefaultPolicy returns the policy of the default tier.
func (c Config) DefaultPolicy() Policy {
	return Policy{
		Enabled:             true,
		TimeWindow:          c.DefaultTimeWindow,
		SimilarityThreshold: c.DefaultSimilarityThreshold,
		MaxDuplicates:       c.DefaultMaxDuplicates,
	}
}

// TierPolicy returns the policy of tier t. A tier missing from Tiers falls
// back to the default tier.
func (c Config) TierPolicy(t Tier) Policy {
	if t != TierDefault {
		if p, ok := c.Tiers[t]; ok {
			return p
		}
	}
	return c.DefaultPolicy()
}

// Clone returns a deep copy of c.
func (c Config) Clone() Config {
	out := c
	out.Tiers = maps.Clone(c.Tiers)
	out.Categories = maps.Clone(c.Categories)
	if out.Tiers == nil {
		out.Tiers = map[Tier]Policy{}
	}
	if out.Categories == nil {
		out.Categories = map[string]Policy{}
	}
	return out
}

// Validate checks every policy in the configuration and reports all
// violations at once, wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	var errs []error

	if err := c.DefaultPolicy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("defaults: %w", err))
	}

	for tier, p := range c.Tiers {
		if !tier.Valid() || tier == TierDefault {
			errs = append(errs, fmt.Errorf("tier %q: unknown tier", tier))
			continue
		}
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("tier %q: %w", tier, err))
		}
	}

	for name, p := range c.Categories {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, errors.New("category name must not be empty"))
			continue
		}
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("category %q: %w", name, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// ConfigUpdate is a partial configuration change. Nil fields are left
// untouched; Tiers and Categories entries replace the named policy whole.
type ConfigUpdate struct {
	Enabled                    *bool
	DefaultTimeWindow          *time.Duration
	DefaultSimilarityThreshold *float64
	DefaultMaxDuplicates       *int
	Tiers                      map[Tier]Policy
	Categories                 map[string]Policy
	RemoveCategories           []string
}

// Apply returns a copy of cfg with the update applied. The result is not
// validated.
func (u ConfigUpdate) Apply(cfg Config) Config {
	out := cfg.Clone()

	if u.Enabled != nil {
		out.Enabled = *u.Enabled
	}
	if u.DefaultTimeWindow != nil {
		out.DefaultTimeWindow = *u.DefaultTimeWindow
	}
	if u.DefaultSimilarityThreshold != nil {
		out.DefaultSimilarityThreshold = *u.DefaultSimilarityThreshold
	}
	if u.DefaultMaxDuplicates != nil {
		out.DefaultMaxDuplicates = *u.DefaultMaxDuplicates
	}
	for tier, p := range u.Tiers {
		out.Tiers[tier] = p
	}
	for name, p := range u.Categories {
		out.Categories[CategoryKey(name)] = p
	}
	for _, name := range u.RemoveCategories {
		delete(out.Categories, CategoryKey(name))
	}

	return out
}

// CategoryKey is the map key under which a category override is stored.
// Unlike NormalizeCategory it keeps an empty name empty so that Validate can
// reject it.
func CategoryKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
