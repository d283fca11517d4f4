package optimizer

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/SebastienMelki/notifyguard/internal/dedup/internal/domain"
)

// cachedResult is a result served without consulting the core. content is
// the fingerprint hash of the checked notification, so that invalidation
// catches every spelling that normalizes to the same content.
type cachedResult struct {
	result    domain.Result
	content   string
	storedAt  time.Time
	expiresAt time.Time
}

// resultCache maps request keys to recent results. It is not safe for
// concurrent use; the Optimizer guards it.
type resultCache struct {
	entries map[string]cachedResult
}

func newResultCache() *resultCache {
	return &resultCache{entries: make(map[string]cachedResult)}
}

// requestKey identifies a check by its raw content and priority.
func requestKey(title, message, category string, priority domain.Priority) string {
	return strings.Join([]string{title, message, category, string(priority)}, "|")
}

func (c *resultCache) get(key string, now time.Time) (domain.Result, bool) {
	e, ok := c.entries[key]
	if !ok {
		return domain.Result{}, false
	}
	if !now.Before(e.expiresAt) {
		delete(c.entries, key)
		return domain.Result{}, false
	}
	return e.result, true
}

func (c *resultCache) put(key, content string, res domain.Result, now time.Time, ttl time.Duration) {
	c.entries[key] = cachedResult{
		result:    res,
		content:   content,
		storedAt:  now,
		expiresAt: now.Add(ttl),
	}
}

// invalidate drops every cached result whose content hash is content and
// returns how many were dropped.
func (c *resultCache) invalidate(content string) int {
	removed := 0
	for key, e := range c.entries {
		if e.content == content {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// sweep drops expired results and returns how many were dropped.
func (c *resultCache) sweep(now time.Time) int {
	removed := 0
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

func (c *resultCache) clear() {
	c.entries = make(map[string]cachedResult)
}

func (c *resultCache) len() int {
	return len(c.entries)
}

// memoryUsage approximates the cache footprint as the sum of key bytes and
// JSON-encoded result bytes.
func (c *resultCache) memoryUsage() int {
	total := 0
	for key, e := range c.entries {
		total += len(key)
		if b, err := json.Marshal(e.result); err == nil {
			total += len(b)
		}
	}
	return total
}
