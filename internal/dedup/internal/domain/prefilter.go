package domain

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// Prefilter is a bloom filter over the fingerprint hashes held by the dedup
// cache. A negative answer proves the hash is not cached, which lets the
// exact path skip the map lookup. The filter only ever holds a superset of
// the cached hashes: hashes are added on insert and the filter is rebuilt
// from the surviving hashes after every sweep.
type Prefilter struct {
	filter   *bloom.BloomFilter
	mu       sync.RWMutex
	capacity uint
	fpRate   float64
}

// NewPrefilter creates a Prefilter sized for capacity hashes at the given
// false positive rate.
func NewPrefilter(capacity uint, fpRate float64) *Prefilter {
	if capacity == 0 {
		capacity = 1000
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = 0.001
	}
	return &Prefilter{
		filter:   bloom.NewWithEstimates(capacity, fpRate),
		capacity: capacity,
		fpRate:   fpRate,
	}
}

// Add records hash in the filter.
func (p *Prefilter) Add(hash string) {
	p.mu.Lock()
	p.filter.AddString(hash)
	p.mu.Unlock()
}

// MayContain reports whether hash may have been added. False means the hash
// was definitely never added since the last rebuild.
func (p *Prefilter) MayContain(hash string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.filter.TestString(hash)
}

// Rebuild replaces the filter with a fresh one holding exactly hashes.
func (p *Prefilter) Rebuild(hashes []string) {
	fresh := bloom.NewWithEstimates(p.capacity, p.fpRate)
	for _, h := range hashes {
		fresh.AddString(h)
	}

	p.mu.Lock()
	p.filter = fresh
	p.mu.Unlock()
}
