package gateway

import (
	"time"

	"github.com/SebastienMelki/notifyguard/internal/dedup"
)

// CheckRequest is the body of POST /v1/checks.
type CheckRequest struct {
	Title    string `json:"title"`
	Message  string `json:"message"`
	Category string `json:"category,omitempty"`
	Priority string `json:"priority,omitempty"`
}

// CheckResponse is the verdict for a CheckRequest.
type CheckResponse struct {
	IsDuplicate bool    `json:"is_duplicate"`
	ShouldBlock bool    `json:"should_block"`
	Similarity  float64 `json:"similarity,omitempty"`
	MatchedHash string  `json:"matched_hash,omitempty"`
	WindowMs    int64   `json:"window_ms"`
}

// ContentRequest is the body of POST /v1/blocks and POST /v1/unblocks.
type ContentRequest struct {
	Title    string `json:"title"`
	Message  string `json:"message"`
	Category string `json:"category,omitempty"`
}

// UnblockResponse reports whether the unblocked content was known.
type UnblockResponse struct {
	Existed bool `json:"existed"`
}

// SimilarityRequest is the body of POST /v1/similarity. Method is one of
// jaro-winkler (default), cosine or levenshtein. A missing threshold uses
// the configured default similarity threshold.
type SimilarityRequest struct {
	A         string   `json:"a"`
	B         string   `json:"b"`
	Method    string   `json:"method,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// SimilarityResponse is the score for a SimilarityRequest.
type SimilarityResponse struct {
	Method      string  `json:"method"`
	Threshold   float64 `json:"threshold"`
	Similarity  float64 `json:"similarity"`
	IsDuplicate bool    `json:"is_duplicate"`
}

// PolicyDTO is a policy on the wire. Durations are milliseconds.
type PolicyDTO struct {
	Enabled             bool    `json:"enabled"`
	TimeWindowMs        int64   `json:"time_window_ms"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	MaxDuplicates       int     `json:"max_duplicates"`
}

// ConfigDTO is the full policy configuration on the wire.
type ConfigDTO struct {
	Enabled                    bool                 `json:"enabled"`
	DefaultTimeWindowMs        int64                `json:"default_time_window_ms"`
	DefaultSimilarityThreshold float64              `json:"default_similarity_threshold"`
	DefaultMaxDuplicates       int                  `json:"default_max_duplicates"`
	Tiers                      map[string]PolicyDTO `json:"tiers"`
	Categories                 map[string]PolicyDTO `json:"categories"`
}

// ConfigPatch is the body of PATCH /v1/config. Absent fields are left
// unchanged; tier and category entries replace the named policy whole.
type ConfigPatch struct {
	Enabled                    *bool                `json:"enabled,omitempty"`
	DefaultTimeWindowMs        *int64               `json:"default_time_window_ms,omitempty"`
	DefaultSimilarityThreshold *float64             `json:"default_similarity_threshold,omitempty"`
	DefaultMaxDuplicates       *int                 `json:"default_max_duplicates,omitempty"`
	Tiers                      map[string]PolicyDTO `json:"tiers,omitempty"`
	Categories                 map[string]PolicyDTO `json:"categories,omitempty"`
	RemoveCategories           []string             `json:"remove_categories,omitempty"`
}

// StatsResponse is the body of GET /v1/stats.
type StatsResponse struct {
	TotalChecks           int64   `json:"total_checks"`
	CacheHits             int64   `json:"cache_hits"`
	CacheMisses           int64   `json:"cache_misses"`
	BlockedRequests       int64   `json:"blocked_requests"`
	AverageResponseTimeMs float64 `json:"average_response_time_ms"`
	MemoryUsageBytes      int     `json:"memory_usage_bytes"`
	QueueLength           int     `json:"queue_length"`
	InFlight              int     `json:"in_flight"`
	CacheSize             int     `json:"cache_size"`
	Entries               int     `json:"entries"`
	Capacity              int     `json:"capacity"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func policyToDTO(p dedup.Policy) PolicyDTO {
	return PolicyDTO{
		Enabled:             p.Enabled,
		TimeWindowMs:        p.TimeWindow.Milliseconds(),
		SimilarityThreshold: p.SimilarityThreshold,
		MaxDuplicates:       p.MaxDuplicates,
	}
}

func policyFromDTO(d PolicyDTO) dedup.Policy {
	return dedup.Policy{
		Enabled:             d.Enabled,
		TimeWindow:          time.Duration(d.TimeWindowMs) * time.Millisecond,
		SimilarityThreshold: d.SimilarityThreshold,
		MaxDuplicates:       d.MaxDuplicates,
	}
}

func configToDTO(cfg dedup.PolicyConfig) ConfigDTO {
	out := ConfigDTO{
		Enabled:                    cfg.Enabled,
		DefaultTimeWindowMs:        cfg.DefaultTimeWindow.Milliseconds(),
		DefaultSimilarityThreshold: cfg.DefaultSimilarityThreshold,
		DefaultMaxDuplicates:       cfg.DefaultMaxDuplicates,
		Tiers:                      make(map[string]PolicyDTO, len(cfg.Tiers)),
		Categories:                 make(map[string]PolicyDTO, len(cfg.Categories)),
	}
	for tier, p := range cfg.Tiers {
		out.Tiers[string(tier)] = policyToDTO(p)
	}
	for name, p := range cfg.Categories {
		out.Categories[name] = policyToDTO(p)
	}
	return out
}

func (p ConfigPatch) toUpdate() dedup.ConfigUpdate {
	u := dedup.ConfigUpdate{
		Enabled:                    p.Enabled,
		DefaultSimilarityThreshold: p.DefaultSimilarityThreshold,
		DefaultMaxDuplicates:       p.DefaultMaxDuplicates,
		RemoveCategories:           p.RemoveCategories,
	}
	if p.DefaultTimeWindowMs != nil {
		d := time.Duration(*p.DefaultTimeWindowMs) * time.Millisecond
		u.DefaultTimeWindow = &d
	}
	if len(p.Tiers) > 0 {
		u.Tiers = make(map[dedup.Tier]dedup.Policy, len(p.Tiers))
		for name, d := range p.Tiers {
			u.Tiers[dedup.Tier(name)] = policyFromDTO(d)
		}
	}
	if len(p.Categories) > 0 {
		u.Categories = make(map[string]dedup.Policy, len(p.Categories))
		for name, d := range p.Categories {
			u.Categories[name] = policyFromDTO(d)
		}
	}
	return u
}

func statsToResponse(s dedup.Stats) StatsResponse {
	return StatsResponse{
		TotalChecks:           s.TotalChecks,
		CacheHits:             s.CacheHits,
		CacheMisses:           s.CacheMisses,
		BlockedRequests:       s.BlockedRequests,
		AverageResponseTimeMs: float64(s.AverageResponseTime.Microseconds()) / 1000,
		MemoryUsageBytes:      s.MemoryUsage,
		QueueLength:           s.QueueLength,
		InFlight:              s.InFlight,
		CacheSize:             s.CacheSize,
		Entries:               s.Entries,
		Capacity:              s.Capacity,
	}
}
