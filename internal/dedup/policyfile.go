package dedup

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/SebastienMelki/notifyguard/internal/dedup/internal/domain"
)

// LoadPolicyFile reads a YAML policy configuration from path. Top-level
// fields the file omits keep their built-in defaults; tier and category
// entries replace the named policy whole. Durations use Go syntax ("30s").
//
//	enabled: true
//	default_time_window: 60s
//	tiers:
//	  notification: {enabled: true, time_window: 2m, similarity_threshold: 0.9, max_duplicates: 2}
//	categories:
//	  budget: {enabled: true, time_window: 5m, similarity_threshold: 0.8, max_duplicates: 3}
func LoadPolicyFile(path string) (PolicyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PolicyConfig{}, fmt.Errorf("%w: %w", ErrPolicyFile, err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes a YAML policy configuration over the defaults and
// validates the result.
func ParsePolicy(data []byte) (PolicyConfig, error) {
	cfg := domain.DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return PolicyConfig{}, fmt.Errorf("%w: %w", ErrPolicyFile, err)
	}

	categories := make(map[string]Policy, len(cfg.Categories))
	for name, p := range cfg.Categories {
		categories[domain.CategoryKey(name)] = p
	}
	cfg.Categories = categories
	if cfg.Tiers == nil {
		cfg.Tiers = map[Tier]Policy{}
	}

	if err := cfg.Validate(); err != nil {
		return PolicyConfig{}, err
	}
	return cfg, nil
}
