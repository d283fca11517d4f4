package service

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/SebastienMelki/notifyguard/internal/dedup/internal/domain"
	"github.com/SebastienMelki/notifyguard/internal/observability"
)

// Decision paths reported on the dedup.checks metric.
const (
	pathBypass = "bypass"
	pathExact  = "exact"
	pathFuzzy  = "fuzzy"
	pathNew    = "new"
)

// Clock returns the current time. Tests inject a fake to advance time
// deterministically.
type Clock func() time.Time

// Config holds the tunables of the dedup core.
type Config struct {
	// SweepInterval is the period of the background sweep.
	SweepInterval time.Duration
	// MaxAge bounds how long any entry survives after it was first seen,
	// independent of policy windows.
	MaxAge time.Duration
	// MaxEntries bounds the number of cached fingerprints.
	MaxEntries int
	// PrefilterFPRate is the false positive rate of the bloom prefilter.
	PrefilterFPRate float64
}

// DefaultConfig returns a 5 minute sweep, 30 minute max age and a 1000
// entry cache.
func DefaultConfig() Config {
	return Config{
		SweepInterval:   5 * time.Minute,
		MaxAge:          30 * time.Minute,
		MaxEntries:      1000,
		PrefilterFPRate: 0.001,
	}
}

// DedupService decides whether a notification repeats something recently
// seen. It owns the dedup cache and its sweep goroutine. All decisions run
// under a single mutex so that calls are evaluated strictly in arrival order.
type DedupService struct {
	registry *PolicyRegistry
	cfg      Config
	metrics  *observability.Metrics
	logger   *slog.Logger
	now      Clock

	mu    sync.Mutex
	cache *DedupCache

	lifecycleMu sync.Mutex
	running     bool
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// NewDedupService creates a new dedup service. The metrics parameter is
// optional (can be nil) and a nil clock uses time.Now.
func NewDedupService(
	registry *PolicyRegistry,
	cfg Config,
	metrics *observability.Metrics,
	logger *slog.Logger,
	clock Clock,
) *DedupService {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = time.Now
	}

	def := DefaultConfig()
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.PrefilterFPRate <= 0 {
		cfg.PrefilterFPRate = def.PrefilterFPRate
	}

	return &DedupService{
		registry: registry,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger.With("component", "dedup-service"),
		now:      clock,
		cache:    NewDedupCache(cfg.MaxEntries, cfg.PrefilterFPRate),
	}
}

// CheckDuplicate classifies a notification. A disabled policy bypasses
// deduplication entirely. Otherwise an exact fingerprint hit within the
// policy window, or failing that the best fuzzy match at or above the
// policy threshold, counts as a duplicate and bumps the matched entry.
// Content that matches nothing is remembered as a new entry.
//
// It never fails: any text is valid input and unknown priorities resolve
// to the toast tier.
func (s *DedupService) CheckDuplicate(title, message, category string, priority domain.Priority) domain.Result {
	policy := s.registry.Resolve(category, priority)
	if !policy.Enabled {
		s.record(pathBypass, domain.Result{})
		return domain.Result{Window: policy.TimeWindow}
	}

	fp := domain.NewFingerprint(title, message, category)
	categoryPresent := strings.TrimSpace(category) != ""

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	if e, ok := s.cache.Get(fp.Hash); ok && (e.Blocked || e.WithinWindow(now, policy.TimeWindow)) {
		count := e.Touch(now)
		res := domain.Result{
			IsDuplicate: true,
			ShouldBlock: e.Blocked || count > policy.MaxDuplicates,
			MatchedHash: e.Hash,
			Window:      policy.TimeWindow,
		}
		s.record(pathExact, res)
		s.logger.Debug("exact duplicate",
			"hash", e.Hash,
			"occurrences", count,
			"should_block", res.ShouldBlock,
		)
		return res
	}

	best, similarity := s.cache.BestMatch(now, policy.TimeWindow, func(e *domain.CacheEntry) float64 {
		return domain.CompositeSimilarity(
			fp.NormalizedTitle, fp.NormalizedMessage,
			e.NormalizedTitle, e.NormalizedMessage,
			categoryPresent,
		)
	})
	if best != nil && similarity >= policy.SimilarityThreshold {
		count := best.Touch(now)
		res := domain.Result{
			IsDuplicate: true,
			ShouldBlock: best.Blocked || count > policy.MaxDuplicates,
			Similarity:  similarity,
			MatchedHash: best.Hash,
			Window:      policy.TimeWindow,
		}
		s.record(pathFuzzy, res)
		s.logger.Debug("fuzzy duplicate",
			"hash", fp.Hash,
			"matched_hash", best.Hash,
			"similarity", similarity,
			"occurrences", count,
			"should_block", res.ShouldBlock,
		)
		return res
	}

	s.cache.Put(domain.NewCacheEntry(fp, now))
	res := domain.Result{Window: policy.TimeWindow}
	s.record(pathNew, res)
	return res
}

// Block force-writes an entry for the content so that every subsequent
// check on it reports ShouldBlock, regardless of policy window, until
// Unblock is called or the sweep ages the entry out.
func (s *DedupService) Block(title, message, category string) {
	fp := domain.NewFingerprint(title, message, category)

	s.mu.Lock()
	defer s.mu.Unlock()

	e := domain.NewCacheEntry(fp, s.now())
	e.OccurrenceCount = domain.BlockedOccurrenceCount
	e.Blocked = true
	s.cache.Put(e)

	s.logger.Info("content blocked", "hash", fp.Hash, "category", fp.Category)
}

// Unblock deletes the entry for the content, restoring normal accrual from
// zero. It reports whether an entry existed.
func (s *DedupService) Unblock(title, message, category string) bool {
	fp := domain.NewFingerprint(title, message, category)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.cache.Delete(fp.Hash)
	s.logger.Info("content unblocked", "hash", fp.Hash, "existed", removed)
	return removed
}

// Rollback takes back the occurrence recorded by a CheckDuplicate that
// returned res for the content. A caller uses it when the notification
// could not be emitted, so that a retry is judged as if the failed attempt
// never happened. An entry the check created is deleted unless another
// check has since matched it; otherwise the entry's count drops by one.
// Blocked entries and cached or bypassed results are left alone. It
// reports whether an entry changed.
func (s *DedupService) Rollback(title, message, category string, priority domain.Priority, res domain.Result) bool {
	if res.Cached {
		return false
	}

	hash := res.MatchedHash
	if !res.IsDuplicate {
		if !s.registry.Resolve(category, priority).Enabled {
			return false
		}
		hash = domain.NewFingerprint(title, message, category).Hash
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.cache.Get(hash)
	if !ok || e.Blocked {
		return false
	}

	if e.OccurrenceCount <= 1 {
		s.cache.Delete(hash)
	} else {
		e.OccurrenceCount--
	}
	s.logger.Debug("occurrence rolled back", "hash", hash, "occurrences", e.OccurrenceCount)
	return true
}

// Sweep removes entries older than the configured max age and returns how
// many were removed.
func (s *DedupService) Sweep() int {
	s.mu.Lock()
	removed := s.cache.Sweep(s.now(), s.cfg.MaxAge)
	remaining := s.cache.Len()
	s.mu.Unlock()

	if s.metrics != nil {
		ctx := context.Background()
		s.metrics.DedupSwept.Add(ctx, int64(removed))
		s.metrics.DedupEntries.Record(ctx, int64(remaining))
	}
	s.logger.Debug("dedup cache swept", "removed", removed, "remaining", remaining)

	return removed
}

// Reset drops every cached entry.
func (s *DedupService) Reset() {
	s.mu.Lock()
	s.cache.Clear()
	s.mu.Unlock()
}

// Len returns the number of cached fingerprints.
func (s *DedupService) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}

// HasSpace reports whether the cache can take another fingerprint without
// evicting one.
func (s *DedupService) HasSpace() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.HasSpace()
}

// Capacity returns the maximum number of cached fingerprints.
func (s *DedupService) Capacity() int {
	return s.cfg.MaxEntries
}

// Registry returns the policy registry consulted by the service.
func (s *DedupService) Registry() *PolicyRegistry {
	return s.registry
}

// Start launches the background goroutine that sweeps the cache every
// sweep interval. The goroutine stops when ctx is cancelled or Stop is
// called. Calling Start on a running service is a no-op.
func (s *DedupService) Start(ctx context.Context) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running {
		s.logger.Warn("dedup service already running")
		return
	}

	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	s.logger.Info("dedup service started",
		"sweep_interval", s.cfg.SweepInterval,
		"max_age", s.cfg.MaxAge,
		"max_entries", s.cfg.MaxEntries,
	)

	go s.run(ctx, s.stopCh, s.doneCh)
}

// Stop signals the sweep goroutine to stop and waits for it to finish.
func (s *DedupService) Stop() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.running {
		return
	}

	close(s.stopCh)
	<-s.doneCh
	s.running = false
}

func (s *DedupService) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-ctx.Done():
			s.logger.Info("dedup service stopping (context cancelled)")
			return
		case <-stopCh:
			s.logger.Info("dedup service stopping (stop requested)")
			return
		}
	}
}

// record reports a decision on the metrics, when configured.
func (s *DedupService) record(path string, res domain.Result) {
	if s.metrics == nil {
		return
	}

	ctx := context.Background()
	s.metrics.DedupChecks.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("path", path)))
	if res.IsDuplicate {
		s.metrics.DedupDuplicates.Add(ctx, 1)
	}
	if res.ShouldBlock {
		s.metrics.DedupBlocked.Add(ctx, 1)
	}
}
