package domain

import "time"

// BlockedOccurrenceCount is the occurrence count written by an
// administrative block. It sits far above any plausible duplicate cap.
const BlockedOccurrenceCount = 1 << 30

// CacheEntry is one remembered fingerprint. It keeps the normalized content
// so the fuzzy path can compare new content against what was stored.
type CacheEntry struct {
	Hash              string
	NormalizedTitle   string
	NormalizedMessage string
	Category          string
	FirstSeen         time.Time
	LastSeen          time.Time
	OccurrenceCount   int
	Blocked           bool
}

// NewCacheEntry creates the entry for a first sighting of fp at now.
func NewCacheEntry(fp Fingerprint, now time.Time) *CacheEntry {
	return &CacheEntry{
		Hash:              fp.Hash,
		NormalizedTitle:   fp.NormalizedTitle,
		NormalizedMessage: fp.NormalizedMessage,
		Category:          fp.Category,
		FirstSeen:         now,
		LastSeen:          now,
		OccurrenceCount:   1,
	}
}

// Touch records another occurrence at now and returns the new count.
func (e *CacheEntry) Touch(now time.Time) int {
	e.OccurrenceCount++
	e.LastSeen = now
	return e.OccurrenceCount
}

// WithinWindow reports whether the entry was last seen no longer than
// window before now.
func (e *CacheEntry) WithinWindow(now time.Time, window time.Duration) bool {
	return now.Sub(e.LastSeen) <= window
}

// Result is the outcome of a duplicate check. Similarity is set only on a
// fuzzy match and MatchedHash only when a duplicate was found. Window is the
// time window of the policy that produced the result. Cached marks a result
// served from the optimizer's result cache, which recorded no occurrence.
type Result struct {
	IsDuplicate bool          `json:"is_duplicate"`
	ShouldBlock bool          `json:"should_block"`
	Similarity  float64       `json:"similarity,omitempty"`
	MatchedHash string        `json:"matched_hash,omitempty"`
	Window      time.Duration `json:"-"`
	Cached      bool          `json:"-"`
}
