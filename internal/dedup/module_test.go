package dedup

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/SebastienMelki/notifyguard/internal/observability"
)

// --- Mock implementations ---

// memStore implements PolicyStore in memory.
type memStore struct {
	mu      sync.Mutex
	cfg     PolicyConfig
	found   bool
	saves   int
	loadErr error
	saveErr error
}

func (s *memStore) Load(ctx context.Context) (PolicyConfig, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return PolicyConfig{}, false, s.loadErr
	}
	return s.cfg.Clone(), s.found, nil
}

func (s *memStore) Save(ctx context.Context, cfg PolicyConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.cfg = cfg.Clone()
	s.found = true
	s.saves++
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

// testConfig flushes every check immediately.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Optimizer.BatchSize = 1
	return cfg
}

func newTestModule(t *testing.T, opts ...Option) *Module {
	t.Helper()
	m, err := New(testConfig(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

// --- Tests ---

func TestModule_CheckDuplicate(t *testing.T) {
	m := newTestModule(t)
	ctx := context.Background()
	n := Notification{Title: "Budget Alert", Message: "You exceeded your food budget", Category: "budget", Priority: PriorityHigh}

	want := []struct{ dup, block bool }{
		{false, false},
		{true, false},
		{true, true},
	}
	for i, w := range want {
		res, err := m.CheckDuplicate(ctx, n)
		if err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
		if res.IsDuplicate != w.dup || res.ShouldBlock != w.block {
			t.Errorf("call %d: got dup=%v block=%v, want dup=%v block=%v",
				i+1, res.IsDuplicate, res.ShouldBlock, w.dup, w.block)
		}
	}

	stats := m.Stats()
	if stats.TotalChecks != 3 || stats.Entries != 1 || stats.Capacity != 1000 {
		t.Errorf("stats = %+v, want 3 checks, 1 entry, capacity 1000", stats)
	}
}

func TestModule_UnblockInvalidatesCachedVerdict(t *testing.T) {
	m := newTestModule(t)
	ctx := context.Background()
	n := Notification{Title: "Saved", Message: "Profile saved", Priority: PriorityNormal}

	for range 2 {
		if _, err := m.CheckDuplicate(ctx, n); err != nil {
			t.Fatalf("CheckDuplicate: %v", err)
		}
	}
	if m.Stats().CacheSize != 1 {
		t.Fatalf("blocking verdict should be cached, CacheSize = %d", m.Stats().CacheSize)
	}

	if !m.Unblock(n.Title, n.Message, n.Category) {
		t.Error("Unblock() = false, want true")
	}

	res, err := m.CheckDuplicate(ctx, n)
	if err != nil {
		t.Fatalf("CheckDuplicate: %v", err)
	}
	if res.IsDuplicate {
		t.Error("after Unblock the cached verdict must not be served")
	}
}

func TestModule_RollbackRestoresFirstSighting(t *testing.T) {
	m := newTestModule(t)
	ctx := context.Background()
	n := Notification{ID: "n-1", Title: "Saved", Message: "Profile saved", Priority: PriorityNormal}

	first, err := m.CheckDuplicate(ctx, n)
	if err != nil {
		t.Fatalf("CheckDuplicate: %v", err)
	}
	if !m.Rollback(n, first) {
		t.Fatal("Rollback() = false, want true")
	}
	if m.Stats().Entries != 0 {
		t.Errorf("Entries = %d after rollback, want 0", m.Stats().Entries)
	}

	retry, err := m.CheckDuplicate(ctx, n)
	if err != nil {
		t.Fatalf("CheckDuplicate: %v", err)
	}
	if retry.IsDuplicate {
		t.Error("retry after rollback should not be a duplicate")
	}

	// A blocking verdict is cached; rolling it back must drop the cache.
	second, err := m.CheckDuplicate(ctx, n)
	if err != nil {
		t.Fatalf("CheckDuplicate: %v", err)
	}
	if !second.ShouldBlock || m.Stats().CacheSize != 1 {
		t.Fatalf("second = %+v, CacheSize = %d; want cached blocking verdict", second, m.Stats().CacheSize)
	}
	if !m.Rollback(n, second) {
		t.Fatal("Rollback() of the blocking verdict = false, want true")
	}
	if m.Stats().CacheSize != 0 {
		t.Errorf("CacheSize = %d after rollback, want 0", m.Stats().CacheSize)
	}
}

func TestModule_Compare(t *testing.T) {
	m := newTestModule(t)

	got, err := m.Compare("Kitten!", "SITTING", MethodLevenshtein, 0.5)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if want := 1 - 3.0/7.0; got.Similarity < want-1e-9 || got.Similarity > want+1e-9 {
		t.Errorf("Similarity = %f, want %f on normalized input", got.Similarity, want)
	}
	if !got.IsDuplicate {
		t.Error("IsDuplicate = false, want true at threshold 0.5")
	}

	if _, err := m.Compare("a", "b", MethodCosine, 1.2); !errors.Is(err, ErrInvalidComparison) {
		t.Errorf("threshold 1.2 error = %v, want ErrInvalidComparison", err)
	}
}

func TestModule_BlockOverridesCachedVerdict(t *testing.T) {
	m := newTestModule(t)
	ctx := context.Background()
	n := Notification{Title: "Promo", Message: "Buy now", Category: "marketing"}

	if _, err := m.CheckDuplicate(ctx, n); err != nil {
		t.Fatalf("CheckDuplicate: %v", err)
	}

	m.Block("promo", "buy now!", "Marketing")

	res, err := m.CheckDuplicate(ctx, n)
	if err != nil {
		t.Fatalf("CheckDuplicate: %v", err)
	}
	if !res.ShouldBlock {
		t.Error("Block on an equivalent spelling should block the content")
	}
}

func TestModule_CheckDuplicateDirectUsesClock(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)}
	m := newTestModule(t, WithClock(clock.Now))
	n := Notification{Title: "t", Message: "m", Priority: PriorityNormal}

	m.CheckDuplicateDirect(n)
	if !m.CheckDuplicateDirect(n).IsDuplicate {
		t.Fatal("immediate repeat should be a duplicate")
	}

	clock.Advance(31 * time.Second)
	if m.CheckDuplicateDirect(n).IsDuplicate {
		t.Error("repeat after the toast window should not be a duplicate")
	}
}

func TestModule_UpdateConfig(t *testing.T) {
	metrics, err := observability.NewMetrics(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m := newTestModule(t, WithMetrics(metrics))
	ctx := context.Background()

	bad := -1
	if _, err := m.UpdateConfig(ctx, ConfigUpdate{DefaultMaxDuplicates: &bad}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("UpdateConfig(invalid) error = %v, want ErrInvalidConfig", err)
	}
	if got := m.GetConfig().DefaultMaxDuplicates; got != 1 {
		t.Errorf("DefaultMaxDuplicates = %d after rejected update, want 1", got)
	}

	off := false
	cfg, err := m.UpdateConfig(ctx, ConfigUpdate{Enabled: &off})
	if err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	if cfg.Enabled {
		t.Error("returned config still enabled")
	}

	n := Notification{Title: "a", Message: "b"}
	for range 2 {
		if res := m.CheckDuplicateDirect(n); res.IsDuplicate {
			t.Error("disabled dedup reported a duplicate")
		}
	}
}

func TestModule_UpdateConfigPersists(t *testing.T) {
	store := &memStore{}
	m := newTestModule(t, WithPolicyStore(store))
	ctx := context.Background()

	p := Policy{Enabled: true, TimeWindow: time.Hour, SimilarityThreshold: 0.8, MaxDuplicates: 4}
	if _, err := m.UpdateConfig(ctx, ConfigUpdate{Categories: map[string]Policy{"Budget": p}}); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}

	if store.saves != 1 {
		t.Errorf("saves = %d, want 1", store.saves)
	}
	if got := store.cfg.Categories["budget"]; got != p {
		t.Errorf("stored category = %+v, want %+v", got, p)
	}
}

func TestModule_UpdateConfigRollsBackOnStoreFailure(t *testing.T) {
	store := &memStore{saveErr: errors.New("disk full")}
	m := newTestModule(t, WithPolicyStore(store))

	off := false
	_, err := m.UpdateConfig(context.Background(), ConfigUpdate{Enabled: &off})
	if !errors.Is(err, ErrPolicyStore) {
		t.Fatalf("error = %v, want ErrPolicyStore", err)
	}
	if !m.GetConfig().Enabled {
		t.Error("failed save must roll the update back")
	}
}

func TestModule_StartLoadsStoredConfig(t *testing.T) {
	stored := DefaultPolicyConfig()
	stored.DefaultTimeWindow = 7 * time.Minute
	store := &memStore{cfg: stored, found: true}

	m := newTestModule(t, WithPolicyStore(store))
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	if got := m.GetConfig().DefaultTimeWindow; got != 7*time.Minute {
		t.Errorf("DefaultTimeWindow = %s, want the stored 7m", got)
	}
	if store.saves != 0 {
		t.Errorf("saves = %d, a found configuration must not be re-saved", store.saves)
	}
}

func TestModule_StartSeedsEmptyStore(t *testing.T) {
	store := &memStore{}
	m := newTestModule(t, WithPolicyStore(store))
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	if !store.found || store.saves != 1 {
		t.Errorf("store found=%v saves=%d, want seeded once", store.found, store.saves)
	}
}

func TestModule_StartFailsOnStoreError(t *testing.T) {
	store := &memStore{loadErr: errors.New("connection refused")}
	m := newTestModule(t, WithPolicyStore(store))

	if err := m.Start(context.Background()); !errors.Is(err, ErrPolicyStore) {
		t.Errorf("Start() error = %v, want ErrPolicyStore", err)
	}
}

func TestModule_SQLPolicyStore(t *testing.T) {
	ctx := context.Background()
	storeCfg := DefaultConfig().Store
	storeCfg.Enabled = true
	storeCfg.Path = filepath.Join(t.TempDir(), "policies.db")

	store, err := OpenPolicyStore(ctx, storeCfg, nil)
	if err != nil {
		t.Fatalf("OpenPolicyStore: %v", err)
	}
	defer store.Close()

	m := newTestModule(t, WithPolicyStore(store))
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	window := 3 * time.Minute
	if _, err := m.UpdateConfig(ctx, ConfigUpdate{DefaultTimeWindow: &window}); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}

	// A fresh module over the same store picks the update up.
	restarted := newTestModule(t, WithPolicyStore(store))
	if err := restarted.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer restarted.Stop()

	if got := restarted.GetConfig().DefaultTimeWindow; got != window {
		t.Errorf("DefaultTimeWindow = %s, want %s", got, window)
	}
}

func TestNew_RejectsInvalidPolicy(t *testing.T) {
	bad := DefaultPolicyConfig()
	bad.DefaultSimilarityThreshold = 2

	if _, err := New(testConfig(), WithPolicyConfig(bad)); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("New() error = %v, want ErrInvalidConfig", err)
	}
}

func TestModule_HasSpace(t *testing.T) {
	cfg := testConfig()
	cfg.MaxEntries = 2
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	m.CheckDuplicateDirect(Notification{Title: "a", Message: "a"})
	if !m.HasSpace() {
		t.Error("HasSpace() = false with 1 of 2 entries")
	}
	m.CheckDuplicateDirect(Notification{Title: "b", Message: "b"})
	if m.HasSpace() {
		t.Error("HasSpace() = true with 2 of 2 entries")
	}

	m.Reset()
	if !m.HasSpace() {
		t.Error("HasSpace() = false after Reset")
	}
}

func TestModule_ResetStats(t *testing.T) {
	m, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	if _, err := m.CheckDuplicate(context.Background(), Notification{Title: "a", Message: "b"}); err != nil {
		t.Fatalf("CheckDuplicate: %v", err)
	}
	if got := m.Stats().TotalChecks; got != 1 {
		t.Fatalf("TotalChecks = %d, want 1", got)
	}

	m.ResetStats()
	if got := m.Stats().TotalChecks; got != 0 {
		t.Errorf("TotalChecks after ResetStats = %d, want 0", got)
	}
}
