package optimizer

import "time"

// Config holds the tunables of the optimizer.
type Config struct {
	// CacheTTL bounds how long a cached result is served. It is also the
	// interval of the cleanup sweep.
	CacheTTL time.Duration
	// MaxConcurrentRequests is the number of non-cached checks allowed in
	// flight before new ones are rejected.
	MaxConcurrentRequests int
	// BatchSize flushes the queue as soon as it holds this many requests.
	BatchSize int
	// DebounceTime flushes the queue this long after its first request was
	// enqueued, whatever its size.
	DebounceTime time.Duration
	// StatsWindow is the number of response time samples kept for the
	// rolling average.
	StatsWindow int
}

// DefaultConfig returns a 5 minute cache TTL, 10 concurrent requests,
// batches of 10 with a 50ms debounce and a 1000 sample stats window.
func DefaultConfig() Config {
	return Config{
		CacheTTL:              5 * time.Minute,
		MaxConcurrentRequests: 10,
		BatchSize:             10,
		DebounceTime:          50 * time.Millisecond,
		StatsWindow:           1000,
	}
}

// withDefaults replaces every non-positive field with its default.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.CacheTTL <= 0 {
		c.CacheTTL = def.CacheTTL
	}
	if c.MaxConcurrentRequests <= 0 {
		c.MaxConcurrentRequests = def.MaxConcurrentRequests
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.DebounceTime <= 0 {
		c.DebounceTime = def.DebounceTime
	}
	if c.StatsWindow <= 0 {
		c.StatsWindow = def.StatsWindow
	}
	return c
}
