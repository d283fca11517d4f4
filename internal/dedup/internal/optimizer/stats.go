package optimizer

import "time"

// Stats is a snapshot of optimizer counters.
type Stats struct {
	TotalChecks         int64
	CacheHits           int64
	CacheMisses         int64
	BlockedRequests     int64
	AverageResponseTime time.Duration
	MemoryUsage         int
	QueueLength         int
	InFlight            int
	CacheSize           int
}

// sampleWindow is a fixed-size ring of response times. The oldest sample is
// overwritten once the ring is full.
type sampleWindow struct {
	samples []time.Duration
	head    int
	size    int
	sum     time.Duration
}

func newSampleWindow(capacity int) *sampleWindow {
	if capacity <= 0 {
		capacity = 1
	}
	return &sampleWindow{samples: make([]time.Duration, capacity)}
}

func (w *sampleWindow) add(d time.Duration) {
	if w.size == len(w.samples) {
		w.sum -= w.samples[w.head]
	} else {
		w.size++
	}
	w.samples[w.head] = d
	w.sum += d
	w.head = (w.head + 1) % len(w.samples)
}

func (w *sampleWindow) average() time.Duration {
	if w.size == 0 {
		return 0
	}
	return w.sum / time.Duration(w.size)
}

func (w *sampleWindow) len() int {
	return w.size
}

func (w *sampleWindow) reset() {
	clear(w.samples)
	w.head = 0
	w.size = 0
	w.sum = 0
}
