// Package service tests the dedup core: policy resolution, the dedup cache
// and the decision algorithm.
package service

import (
	"sync"
	"testing"
	"time"

	"github.com/SebastienMelki/notifyguard/internal/dedup/internal/domain"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// newTestService builds a service over the default policy configuration.
func newTestService(t *testing.T, cfg Config) (*DedupService, *fakeClock) {
	t.Helper()

	registry, err := NewPolicyRegistry(domain.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewPolicyRegistry: %v", err)
	}

	clock := newFakeClock()
	return NewDedupService(registry, cfg, nil, nil, clock.Now), clock
}
