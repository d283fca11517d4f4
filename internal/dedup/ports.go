// Package dedup decides whether a notification repeats something recently
// emitted. Checks go through exact fingerprint matching and fuzzy content
// similarity under per-priority and per-category policies, fronted by a
// result cache, an admission limiter and a debounced batching queue.
package dedup

import "context"

// Deduplicator is the dedup API consumed by the gateway and the relay.
// Implementations must be safe for concurrent use.
type Deduplicator interface {
	// CheckDuplicate classifies n. It fails only with
	// ErrTooManyConcurrentRequests, ErrBatchFailed or a context error.
	CheckDuplicate(ctx context.Context, n Notification) (Result, error)

	// Block makes every later check on the content report ShouldBlock.
	Block(title, message, category string)

	// Unblock forgets the content. It reports whether it was known.
	Unblock(title, message, category string) bool

	// Rollback takes back the occurrence a check recorded for n when n
	// could not be emitted. It reports whether anything changed.
	Rollback(n Notification, res Result) bool

	// Compare scores two strings with the chosen similarity method.
	Compare(a, b string, method SimilarityMethod, threshold float64) (Comparison, error)

	// UpdateConfig applies a partial policy update atomically.
	UpdateConfig(ctx context.Context, update ConfigUpdate) (PolicyConfig, error)

	// GetConfig returns the current policy configuration.
	GetConfig() PolicyConfig

	// Stats returns a snapshot of the dedup counters.
	Stats() Stats
}

// PolicyStore persists the policy configuration across restarts.
type PolicyStore interface {
	// Load returns the stored configuration and whether one was found.
	Load(ctx context.Context) (PolicyConfig, bool, error)

	// Save replaces the stored configuration.
	Save(ctx context.Context, cfg PolicyConfig) error
}
