package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/SebastienMelki/notifyguard/internal/dedup/internal/domain"
	"github.com/SebastienMelki/notifyguard/internal/dedup/internal/optimizer"
	"github.com/SebastienMelki/notifyguard/internal/dedup/internal/service"
	"github.com/SebastienMelki/notifyguard/internal/observability"
)

// Module is the dedup module facade. It wires the policy registry, the
// dedup core and the optimizer, and keeps the optional policy store in
// sync with configuration changes.
type Module struct {
	registry *service.PolicyRegistry
	svc      *service.DedupService
	opt      *optimizer.Optimizer
	store    PolicyStore
	metrics  *observability.Metrics
	logger   *slog.Logger

	// updateMu serializes configuration updates with their persistence.
	updateMu sync.Mutex
}

var _ Deduplicator = (*Module)(nil)

// Option configures a Module.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics *observability.Metrics
	clock   func() time.Time
	store   PolicyStore
	policy  *PolicyConfig
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics enables metric instrumentation.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(o *options) { o.metrics = metrics }
}

// WithClock replaces time.Now for window and expiry computations.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// WithPolicyStore persists the policy configuration. A stored
// configuration is loaded by Start and replaces the initial one.
func WithPolicyStore(store PolicyStore) Option {
	return func(o *options) { o.store = store }
}

// WithPolicyConfig sets the initial policy configuration, taking
// precedence over Config.PolicyFile.
func WithPolicyConfig(cfg PolicyConfig) Option {
	return func(o *options) { o.policy = &cfg }
}

// New creates a dedup Module. The initial policy configuration comes from
// WithPolicyConfig, else Config.PolicyFile, else the built-in defaults,
// and must be valid.
func New(cfg Config, opts ...Option) (*Module, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("module", "dedup")

	var policy PolicyConfig
	switch {
	case o.policy != nil:
		policy = *o.policy
	case cfg.PolicyFile != "":
		p, err := LoadPolicyFile(cfg.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("load policy file %s: %w", cfg.PolicyFile, err)
		}
		policy = p
		logger.Info("loaded policy file", "path", cfg.PolicyFile, "categories", len(p.Categories))
	default:
		policy = DefaultPolicyConfig()
	}

	registry, err := service.NewPolicyRegistry(policy, logger)
	if err != nil {
		return nil, err
	}

	clock := service.Clock(o.clock)
	svc := service.NewDedupService(registry, cfg.serviceConfig(), o.metrics, logger, clock)
	opt := optimizer.New(svc, cfg.Optimizer.optimizerConfig(), o.metrics, logger, optimizer.Clock(clock))

	return &Module{
		registry: registry,
		svc:      svc,
		opt:      opt,
		store:    o.store,
		metrics:  o.metrics,
		logger:   logger,
	}, nil
}

// Start loads the persisted policy configuration, when a store is
// configured, and launches the background sweeps. An empty store is seeded
// with the current configuration.
func (m *Module) Start(ctx context.Context) error {
	if m.store != nil {
		if err := m.syncStore(ctx); err != nil {
			return err
		}
	}

	m.svc.Start(ctx)
	m.opt.Start(ctx)
	return nil
}

func (m *Module) syncStore(ctx context.Context) error {
	m.updateMu.Lock()
	defer m.updateMu.Unlock()

	stored, found, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: load: %w", ErrPolicyStore, err)
	}

	if !found {
		if err := m.store.Save(ctx, m.registry.Config()); err != nil {
			return fmt.Errorf("%w: seed: %w", ErrPolicyStore, err)
		}
		m.logger.Info("seeded policy store")
		return nil
	}

	if err := m.registry.Replace(stored); err != nil {
		return fmt.Errorf("stored policy configuration: %w", err)
	}
	m.logger.Info("loaded policy configuration from store",
		"enabled", stored.Enabled,
		"categories", len(stored.Categories),
	)
	return nil
}

// Stop stops the background sweeps and waits for them to exit.
func (m *Module) Stop() {
	m.opt.Stop()
	m.svc.Stop()
}

// CheckDuplicate classifies n through the optimizer.
func (m *Module) CheckDuplicate(ctx context.Context, n Notification) (Result, error) {
	return m.opt.CheckDuplicate(ctx, n.Title, n.Message, n.Category, n.Priority)
}

// CheckDuplicateDirect classifies n against the core, bypassing the result
// cache, the admission limiter and batching.
func (m *Module) CheckDuplicateDirect(n Notification) Result {
	return m.svc.CheckDuplicate(n.Title, n.Message, n.Category, n.Priority)
}

// Block makes every later check on the content report ShouldBlock until
// Unblock is called or the entry ages out.
func (m *Module) Block(title, message, category string) {
	m.svc.Block(title, message, category)
	m.opt.Invalidate(title, message, category)
}

// Unblock forgets the content so that it accrues from zero again. It
// reports whether the content was known.
func (m *Module) Unblock(title, message, category string) bool {
	existed := m.svc.Unblock(title, message, category)
	m.opt.Invalidate(title, message, category)
	return existed
}

// Rollback takes back the occurrence recorded for n by a check that
// returned res, for callers that could not emit n. Cached verdicts are
// dropped so a retry reaches the core. It reports whether the dedup cache
// changed.
func (m *Module) Rollback(n Notification, res Result) bool {
	changed := m.svc.Rollback(n.Title, n.Message, n.Category, n.Priority, res)
	if changed {
		m.opt.Invalidate(n.Title, n.Message, n.Category)
		m.logger.Debug("check rolled back", "id", n.ID, "matched_hash", res.MatchedHash)
	}
	return changed
}

// Compare scores two strings with the chosen similarity method after
// normalizing both the way fingerprints are. It fails with an error
// wrapping ErrInvalidComparison for an unknown method or a threshold
// outside [0,1].
func (m *Module) Compare(a, b string, method SimilarityMethod, threshold float64) (Comparison, error) {
	opts := domain.CompareOptions{Method: method, Threshold: threshold}
	if err := opts.Validate(); err != nil {
		return Comparison{}, err
	}
	return domain.Compare(domain.Normalize(a), domain.Normalize(b), opts), nil
}

// UpdateConfig applies update atomically. An invalid update returns an
// error wrapping ErrInvalidConfig and leaves the configuration unchanged.
// With a policy store, a failed save rolls the update back and returns an
// error wrapping ErrPolicyStore.
func (m *Module) UpdateConfig(ctx context.Context, update ConfigUpdate) (PolicyConfig, error) {
	m.updateMu.Lock()
	defer m.updateMu.Unlock()

	prev := m.registry.Config()

	next, err := m.registry.UpdateConfig(update)
	if err != nil {
		m.recordUpdate(ctx, "rejected")
		return next, err
	}

	if m.store != nil {
		if err := m.store.Save(ctx, next); err != nil {
			if rbErr := m.registry.Replace(prev); rbErr != nil {
				m.logger.Error("failed to roll back policy update", "error", rbErr)
			}
			m.recordUpdate(ctx, "persist_failed")
			m.logger.Error("failed to persist policy update", "error", err)
			return prev, fmt.Errorf("%w: save: %w", ErrPolicyStore, err)
		}
	}

	// Cached verdicts were computed under the previous policies.
	m.opt.ClearCache()
	m.recordUpdate(ctx, "applied")

	return next, nil
}

// GetConfig returns a copy of the current policy configuration.
func (m *Module) GetConfig() PolicyConfig {
	return m.registry.Config()
}

// Stats returns a snapshot of the optimizer and dedup cache counters.
func (m *Module) Stats() Stats {
	s := m.opt.Stats()
	return Stats{
		TotalChecks:         s.TotalChecks,
		CacheHits:           s.CacheHits,
		CacheMisses:         s.CacheMisses,
		BlockedRequests:     s.BlockedRequests,
		AverageResponseTime: s.AverageResponseTime,
		MemoryUsage:         s.MemoryUsage,
		QueueLength:         s.QueueLength,
		InFlight:            s.InFlight,
		CacheSize:           s.CacheSize,
		Entries:             m.svc.Len(),
		Capacity:            m.svc.Capacity(),
	}
}

// ResetStats zeroes the optimizer counters.
func (m *Module) ResetStats() {
	m.opt.ResetStats()
}

// Reset forgets every cached fingerprint and cached verdict.
func (m *Module) Reset() {
	m.svc.Reset()
	m.opt.ClearCache()
}

// HasSpace reports whether the dedup cache can take another fingerprint
// without evicting one.
func (m *Module) HasSpace() bool {
	return m.svc.HasSpace()
}

func (m *Module) recordUpdate(ctx context.Context, result string) {
	if m.metrics == nil {
		return
	}
	m.metrics.PolicyUpdates.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("result", result)))
}
