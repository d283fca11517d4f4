// Package optimizer fronts the dedup core with a short-lived result cache,
// a concurrency admission limiter and a debounced batching queue.
package optimizer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SebastienMelki/notifyguard/internal/dedup/internal/domain"
	"github.com/SebastienMelki/notifyguard/internal/observability"
)

// Checker is the dedup core consulted on a cache miss.
type Checker interface {
	CheckDuplicate(title, message, category string, priority domain.Priority) domain.Result
	Rollback(title, message, category string, priority domain.Priority, res domain.Result) bool
}

// Clock returns the current time used for cache expiry.
type Clock func() time.Time

type outcome struct {
	res domain.Result
	err error
}

// request is a check waiting in the batch queue.
type request struct {
	title    string
	message  string
	category string
	priority domain.Priority
	key      string
	done     chan outcome
}

// Optimizer has the same contract as the dedup core plus admission control.
// Cache misses are queued and flushed in batches, either when the queue
// reaches BatchSize or DebounceTime after its first request. Batches are
// evaluated one at a time, each member in enqueue order, so identical
// requests in one batch see each other.
type Optimizer struct {
	core    Checker
	cfg     Config
	metrics *observability.Metrics
	logger  *slog.Logger
	now     Clock

	mu       sync.Mutex
	cache    *resultCache
	queue    []*request
	ready    [][]*request
	gen      uint64
	timer    *time.Timer
	inFlight int

	totalChecks     int64
	cacheHits       int64
	cacheMisses     int64
	blockedRequests int64
	samples         *sampleWindow

	// flushMu serializes batch evaluation.
	flushMu sync.Mutex

	lifecycleMu sync.Mutex
	running     bool
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// New creates an optimizer in front of core. The metrics parameter is
// optional (can be nil) and a nil clock uses time.Now.
func New(core Checker, cfg Config, metrics *observability.Metrics, logger *slog.Logger, clock Clock) *Optimizer {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = time.Now
	}
	cfg = cfg.withDefaults()

	return &Optimizer{
		core:    core,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.With("component", "dedup-optimizer"),
		now:     clock,
		cache:   newResultCache(),
		samples: newSampleWindow(cfg.StatsWindow),
	}
}

// CheckDuplicate returns a cached result when one is fresh. Otherwise the
// check is admitted, queued and resolved from its batch. It fails with
// ErrTooManyConcurrentRequests when too many checks are in flight and with
// ErrBatchFailed when its batch could not be evaluated. Cancelling ctx stops
// the wait but not the evaluation of an already queued check: the check
// keeps its admission slot until its batch resolves, and the occurrence it
// recorded is then rolled back since no caller saw the verdict.
func (o *Optimizer) CheckDuplicate(ctx context.Context, title, message, category string, priority domain.Priority) (domain.Result, error) {
	start := time.Now()
	key := requestKey(title, message, category, priority)

	o.mu.Lock()
	o.totalChecks++

	if res, ok := o.cache.get(key, o.now()); ok {
		res.Cached = true
		o.cacheHits++
		o.samples.add(time.Since(start))
		o.mu.Unlock()

		if o.metrics != nil {
			o.metrics.OptimizerCacheHits.Add(ctx, 1)
		}
		return res, nil
	}
	o.cacheMisses++

	if o.inFlight >= o.cfg.MaxConcurrentRequests {
		o.blockedRequests++
		inFlight := o.inFlight
		o.mu.Unlock()

		if o.metrics != nil {
			o.metrics.OptimizerCacheMisses.Add(ctx, 1)
			o.metrics.OptimizerRejected.Add(ctx, 1)
		}
		o.logger.Debug("check rejected", "in_flight", inFlight, "limit", o.cfg.MaxConcurrentRequests)
		return domain.Result{}, ErrTooManyConcurrentRequests
	}

	o.inFlight++

	req := &request{
		title:    title,
		message:  message,
		category: category,
		priority: priority,
		key:      key,
		done:     make(chan outcome, 1),
	}
	full := o.enqueueLocked(req)
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.OptimizerCacheMisses.Add(ctx, 1)
	}

	if full {
		o.drain()
	}

	select {
	case out := <-req.done:
		o.release()
		if out.err != nil {
			return domain.Result{}, out.err
		}

		elapsed := time.Since(start)
		o.mu.Lock()
		o.samples.add(elapsed)
		o.mu.Unlock()

		if o.metrics != nil {
			o.metrics.CheckDuration.Record(ctx, float64(elapsed.Microseconds())/1000.0)
		}
		return out.res, nil
	case <-ctx.Done():
		go o.abandon(req)
		return domain.Result{}, ctx.Err()
	}
}

// abandon waits for the batch holding req, releases its admission slot and
// takes back the occurrence its evaluation recorded.
func (o *Optimizer) abandon(req *request) {
	out := <-req.done
	defer o.release()

	if out.err != nil {
		return
	}
	if o.core.Rollback(req.title, req.message, req.category, req.priority, out.res) {
		o.Invalidate(req.title, req.message, req.category)
		o.logger.Debug("abandoned check rolled back", "matched_hash", out.res.MatchedHash)
	}
}

// Invalidate drops cached results for the content under every priority.
func (o *Optimizer) Invalidate(title, message, category string) int {
	hash := domain.NewFingerprint(title, message, category).Hash

	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cache.invalidate(hash)
}

// Sweep drops expired cached results and returns how many were dropped.
func (o *Optimizer) Sweep() int {
	o.mu.Lock()
	removed := o.cache.sweep(o.now())
	o.mu.Unlock()

	if removed > 0 {
		o.logger.Debug("result cache swept", "removed", removed)
	}
	return removed
}

// ClearCache drops every cached result.
func (o *Optimizer) ClearCache() {
	o.mu.Lock()
	o.cache.clear()
	o.mu.Unlock()
}

// ResetStats zeroes the counters and the response time window.
func (o *Optimizer) ResetStats() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.totalChecks = 0
	o.cacheHits = 0
	o.cacheMisses = 0
	o.blockedRequests = 0
	o.samples.reset()
}

// Stats returns a snapshot of the optimizer counters.
func (o *Optimizer) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	return Stats{
		TotalChecks:         o.totalChecks,
		CacheHits:           o.cacheHits,
		CacheMisses:         o.cacheMisses,
		BlockedRequests:     o.blockedRequests,
		AverageResponseTime: o.samples.average(),
		MemoryUsage:         o.cache.memoryUsage(),
		QueueLength:         len(o.queue),
		InFlight:            o.inFlight,
		CacheSize:           o.cache.len(),
	}
}

// Start launches the background goroutine that sweeps the result cache
// every cache TTL. Calling Start on a running optimizer is a no-op.
func (o *Optimizer) Start(ctx context.Context) {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if o.running {
		return
	}

	o.running = true
	o.stopCh = make(chan struct{})
	o.doneCh = make(chan struct{})

	o.logger.Info("optimizer started",
		"cache_ttl", o.cfg.CacheTTL,
		"batch_size", o.cfg.BatchSize,
		"debounce", o.cfg.DebounceTime,
		"max_concurrent", o.cfg.MaxConcurrentRequests,
	)

	go o.run(ctx, o.stopCh, o.doneCh)
}

// Stop stops the sweep goroutine and waits for it to exit. Queued checks
// are still flushed by their debounce timer.
func (o *Optimizer) Stop() {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if !o.running {
		return
	}

	close(o.stopCh)
	<-o.doneCh
	o.running = false
}

func (o *Optimizer) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(o.cfg.CacheTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			o.Sweep()
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		}
	}
}

func (o *Optimizer) release() {
	o.mu.Lock()
	o.inFlight--
	o.mu.Unlock()
}

// enqueueLocked appends req to the queue and reports whether the queue
// reached the batch size and was handed off for flushing. Caller must hold
// o.mu.
func (o *Optimizer) enqueueLocked(req *request) bool {
	o.queue = append(o.queue, req)

	if len(o.queue) >= o.cfg.BatchSize {
		o.takeLocked()
		return true
	}

	if len(o.queue) == 1 {
		gen := o.gen
		o.timer = time.AfterFunc(o.cfg.DebounceTime, func() { o.debounceFired(gen) })
	}
	return false
}

// takeLocked moves the queue onto the ready list. Caller must hold o.mu.
func (o *Optimizer) takeLocked() {
	if len(o.queue) == 0 {
		return
	}

	o.ready = append(o.ready, o.queue)
	o.queue = nil
	o.gen++

	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
}

// debounceFired flushes the queue unless it was already taken by a size
// trigger since the timer was armed.
func (o *Optimizer) debounceFired(gen uint64) {
	o.mu.Lock()
	if gen != o.gen || len(o.queue) == 0 {
		o.mu.Unlock()
		return
	}
	o.takeLocked()
	o.mu.Unlock()

	o.drain()
}

// drain evaluates the oldest ready batch. Every take is paired with exactly
// one drain, so batches are evaluated in the order they were taken.
func (o *Optimizer) drain() {
	o.flushMu.Lock()
	defer o.flushMu.Unlock()

	o.mu.Lock()
	if len(o.ready) == 0 {
		o.mu.Unlock()
		return
	}
	batch := o.ready[0]
	o.ready[0] = nil
	o.ready = o.ready[1:]
	o.mu.Unlock()

	o.flush(batch)
}

func (o *Optimizer) flush(batch []*request) {
	batchID := uuid.NewString()
	start := time.Now()

	results, err := o.evaluate(batch)
	if err != nil {
		err = fmt.Errorf("%w: batch %s: %w", ErrBatchFailed, batchID, err)
		o.logger.Error("batch evaluation failed",
			"batch_id", batchID,
			"size", len(batch),
			"error", err,
		)
		if o.metrics != nil {
			o.metrics.OptimizerBatchFailures.Add(context.Background(), 1)
		}
		for _, req := range batch {
			req.done <- outcome{err: err}
		}
		return
	}

	now := o.now()
	o.mu.Lock()
	for i, req := range batch {
		res := results[i]
		// Non-blocking verdicts always go back to the core so repeats keep
		// counting toward the cap.
		if !res.ShouldBlock {
			continue
		}
		if ttl := min(o.cfg.CacheTTL, res.Window); ttl > 0 {
			hash := domain.NewFingerprint(req.title, req.message, req.category).Hash
			o.cache.put(req.key, hash, res, now, ttl)
		}
	}
	o.mu.Unlock()

	for i, req := range batch {
		req.done <- outcome{res: results[i]}
	}

	elapsed := time.Since(start)
	if o.metrics != nil {
		ctx := context.Background()
		o.metrics.OptimizerBatchSize.Record(ctx, int64(len(batch)))
		o.metrics.OptimizerFlushLatency.Record(ctx, float64(elapsed.Microseconds())/1000.0)
	}
	o.logger.Debug("batch flushed",
		"batch_id", batchID,
		"size", len(batch),
		"duration", elapsed,
	)
}

// evaluate runs every batch member through the core in enqueue order. A
// panic in the core fails the whole batch.
func (o *Optimizer) evaluate(batch []*request) (results []domain.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			results = nil
			err = fmt.Errorf("core panic: %v", r)
		}
	}()

	results = make([]domain.Result, 0, len(batch))
	for _, req := range batch {
		results = append(results, o.core.CheckDuplicate(req.title, req.message, req.category, req.priority))
	}
	return results, nil
}
