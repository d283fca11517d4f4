package service

import (
	"time"

	"github.com/SebastienMelki/notifyguard/internal/dedup/internal/domain"
)

// DedupCache is the authoritative store of recently seen fingerprints. It
// is not safe for concurrent use; DedupService serializes all access.
type DedupCache struct {
	entries    map[string]*domain.CacheEntry
	prefilter  *domain.Prefilter
	maxEntries int
}

// NewDedupCache creates a cache bounded to maxEntries entries. The bloom
// prefilter is sized for maxEntries at fpRate.
func NewDedupCache(maxEntries int, fpRate float64) *DedupCache {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &DedupCache{
		entries:    make(map[string]*domain.CacheEntry, maxEntries),
		prefilter:  domain.NewPrefilter(uint(maxEntries), fpRate),
		maxEntries: maxEntries,
	}
}

// Get returns the entry for hash, consulting the prefilter first.
func (c *DedupCache) Get(hash string) (*domain.CacheEntry, bool) {
	if !c.prefilter.MayContain(hash) {
		return nil, false
	}
	e, ok := c.entries[hash]
	return e, ok
}

// Put stores e, replacing any entry with the same hash. When the cache is
// full the least recently seen entry is evicted first.
func (c *DedupCache) Put(e *domain.CacheEntry) {
	if _, exists := c.entries[e.Hash]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[e.Hash] = e
	c.prefilter.Add(e.Hash)
}

// Delete removes the entry for hash. It reports whether an entry existed.
func (c *DedupCache) Delete(hash string) bool {
	if _, ok := c.entries[hash]; !ok {
		return false
	}
	delete(c.entries, hash)
	return true
}

// BestMatch scans every entry last seen within window of now and returns
// the one with the highest score. Ties go to the most recently seen entry.
func (c *DedupCache) BestMatch(now time.Time, window time.Duration, score func(*domain.CacheEntry) float64) (*domain.CacheEntry, float64) {
	var best *domain.CacheEntry
	bestScore := -1.0

	for _, e := range c.entries {
		if !e.WithinWindow(now, window) {
			continue
		}
		s := score(e)
		if s > bestScore || (s == bestScore && best != nil && e.LastSeen.After(best.LastSeen)) {
			best = e
			bestScore = s
		}
	}

	if best == nil {
		return nil, 0
	}
	return best, bestScore
}

// Sweep removes every entry first seen more than maxAge before now and
// rebuilds the prefilter from the survivors. It returns the number removed.
func (c *DedupCache) Sweep(now time.Time, maxAge time.Duration) int {
	removed := 0
	for hash, e := range c.entries {
		if now.Sub(e.FirstSeen) > maxAge {
			delete(c.entries, hash)
			removed++
		}
	}

	hashes := make([]string, 0, len(c.entries))
	for hash := range c.entries {
		hashes = append(hashes, hash)
	}
	c.prefilter.Rebuild(hashes)

	return removed
}

// Clear drops every entry.
func (c *DedupCache) Clear() {
	c.entries = make(map[string]*domain.CacheEntry, c.maxEntries)
	c.prefilter.Rebuild(nil)
}

// Len returns the number of entries.
func (c *DedupCache) Len() int {
	return len(c.entries)
}

// Capacity returns the maximum number of entries.
func (c *DedupCache) Capacity() int {
	return c.maxEntries
}

// HasSpace reports whether another entry fits without eviction.
func (c *DedupCache) HasSpace() bool {
	return len(c.entries) < c.maxEntries
}

// evictOldest drops the least recently seen entry, preferring entries that
// are not administratively blocked.
func (c *DedupCache) evictOldest() {
	var victim *domain.CacheEntry
	for _, e := range c.entries {
		switch {
		case victim == nil:
			victim = e
		case victim.Blocked && !e.Blocked:
			victim = e
		case victim.Blocked == e.Blocked && e.LastSeen.Before(victim.LastSeen):
			victim = e
		}
	}
	if victim != nil {
		delete(c.entries, victim.Hash)
	}
}
