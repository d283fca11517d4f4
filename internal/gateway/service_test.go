package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/SebastienMelki/notifyguard/internal/dedup"
)

// mockDeduplicator records calls and returns canned answers.
type mockDeduplicator struct {
	mu         sync.Mutex
	result     dedup.Result
	checkErr   error
	updateErr  error
	compareErr error
	similarity float64
	cfg        dedup.PolicyConfig
	stats      dedup.Stats
	blocked    map[string]bool
	checked    []dedup.Notification
	updates    []dedup.ConfigUpdate
	compared   []dedup.SimilarityMethod
}

func newMockDeduplicator() *mockDeduplicator {
	return &mockDeduplicator{
		cfg:     dedup.DefaultPolicyConfig(),
		blocked: make(map[string]bool),
	}
}

func contentKey(title, message, category string) string {
	return title + "|" + message + "|" + category
}

func (m *mockDeduplicator) CheckDuplicate(_ context.Context, n dedup.Notification) (dedup.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checked = append(m.checked, n)
	if m.checkErr != nil {
		return dedup.Result{}, m.checkErr
	}
	return m.result, nil
}

func (m *mockDeduplicator) Block(title, message, category string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked[contentKey(title, message, category)] = true
}

func (m *mockDeduplicator) Unblock(title, message, category string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := contentKey(title, message, category)
	existed := m.blocked[key]
	delete(m.blocked, key)
	return existed
}

func (m *mockDeduplicator) UpdateConfig(_ context.Context, u dedup.ConfigUpdate) (dedup.PolicyConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, u)
	if m.updateErr != nil {
		return dedup.PolicyConfig{}, m.updateErr
	}
	m.cfg = u.Apply(m.cfg)
	return m.cfg.Clone(), nil
}

func (m *mockDeduplicator) GetConfig() dedup.PolicyConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Clone()
}

func (m *mockDeduplicator) Stats() dedup.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *mockDeduplicator) Rollback(dedup.Notification, dedup.Result) bool { return false }

func (m *mockDeduplicator) Compare(a, b string, method dedup.SimilarityMethod, threshold float64) (dedup.Comparison, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compared = append(m.compared, method)
	if m.compareErr != nil {
		return dedup.Comparison{}, m.compareErr
	}
	return dedup.Comparison{Similarity: m.similarity, IsDuplicate: m.similarity >= threshold}, nil
}

func TestNotificationService_Check(t *testing.T) {
	mock := newMockDeduplicator()
	mock.result = dedup.Result{
		IsDuplicate: true,
		ShouldBlock: true,
		Similarity:  0.91,
		MatchedHash: "abc123",
		Window:      30 * time.Second,
	}
	svc := NewNotificationService(mock, nil)

	resp, err := svc.Check(context.Background(), &CheckRequest{
		Title:    "Saved",
		Message:  "Your file was saved",
		Category: "files",
		Priority: "high",
	})
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}

	if !resp.IsDuplicate || !resp.ShouldBlock {
		t.Errorf("verdict = %+v, want duplicate and blocked", resp)
	}
	if resp.Similarity != 0.91 || resp.MatchedHash != "abc123" {
		t.Errorf("similarity/hash = %v/%q", resp.Similarity, resp.MatchedHash)
	}
	if resp.WindowMs != 30000 {
		t.Errorf("WindowMs = %d, want 30000", resp.WindowMs)
	}

	if len(mock.checked) != 1 {
		t.Fatalf("checked %d notifications, want 1", len(mock.checked))
	}
	got := mock.checked[0]
	if got.Category != "files" || got.Priority != dedup.PriorityHigh {
		t.Errorf("forwarded notification = %+v", got)
	}
}

func TestNotificationService_CheckError(t *testing.T) {
	mock := newMockDeduplicator()
	mock.checkErr = dedup.ErrTooManyConcurrentRequests
	svc := NewNotificationService(mock, nil)

	_, err := svc.Check(context.Background(), &CheckRequest{Title: "t", Message: "m"})
	if !errors.Is(err, dedup.ErrTooManyConcurrentRequests) {
		t.Errorf("Check() error = %v, want ErrTooManyConcurrentRequests", err)
	}
}

func TestNotificationService_Similarity(t *testing.T) {
	mock := newMockDeduplicator()
	mock.similarity = 0.87
	svc := NewNotificationService(mock, nil)
	ctx := context.Background()

	resp, err := svc.Similarity(ctx, &SimilarityRequest{A: "a", B: "b", Method: "Cosine"})
	if err != nil {
		t.Fatalf("Similarity() error = %v", err)
	}
	if resp.Method != "cosine" {
		t.Errorf("Method = %q, want cosine", resp.Method)
	}
	if resp.Threshold != dedup.DefaultPolicyConfig().DefaultSimilarityThreshold {
		t.Errorf("Threshold = %v, want the configured default", resp.Threshold)
	}
	if !resp.IsDuplicate {
		t.Error("0.87 >= default 0.85 should be a duplicate")
	}

	strict := 0.9
	resp, err = svc.Similarity(ctx, &SimilarityRequest{A: "a", B: "b", Threshold: &strict})
	if err != nil {
		t.Fatalf("Similarity() error = %v", err)
	}
	if resp.Method != "jaro-winkler" || resp.IsDuplicate {
		t.Errorf("resp = %+v, want jaro-winkler below threshold", resp)
	}

	if _, err := svc.Similarity(ctx, &SimilarityRequest{A: "a", B: "b", Method: "soundex"}); !errors.Is(err, dedup.ErrInvalidComparison) {
		t.Errorf("unknown method error = %v, want ErrInvalidComparison", err)
	}

	want := []dedup.SimilarityMethod{dedup.MethodCosine, dedup.MethodJaroWinkler}
	if len(mock.compared) != len(want) || mock.compared[0] != want[0] || mock.compared[1] != want[1] {
		t.Errorf("compared methods = %v, want %v", mock.compared, want)
	}
}

func TestNotificationService_BlockUnblock(t *testing.T) {
	mock := newMockDeduplicator()
	svc := NewNotificationService(mock, nil)
	ctx := context.Background()

	req := &ContentRequest{Title: "Spam", Message: "Buy now", Category: "promo"}

	if resp := svc.Unblock(ctx, req); resp.Existed {
		t.Error("Unblock() of unknown content reported existed")
	}

	svc.Block(ctx, req)
	if resp := svc.Unblock(ctx, req); !resp.Existed {
		t.Error("Unblock() after Block() should report existed")
	}
}

func TestNotificationService_UpdateConfig(t *testing.T) {
	mock := newMockDeduplicator()
	svc := NewNotificationService(mock, nil)

	window := int64(5000)
	cfg, err := svc.UpdateConfig(context.Background(), &ConfigPatch{
		DefaultTimeWindowMs: &window,
		Categories: map[string]PolicyDTO{
			"chat": {Enabled: false, TimeWindowMs: 1000, SimilarityThreshold: 0.5, MaxDuplicates: 3},
		},
	})
	if err != nil {
		t.Fatalf("UpdateConfig() error = %v", err)
	}

	if cfg.DefaultTimeWindowMs != 5000 {
		t.Errorf("DefaultTimeWindowMs = %d, want 5000", cfg.DefaultTimeWindowMs)
	}
	chat, ok := cfg.Categories["chat"]
	if !ok {
		t.Fatal("category chat missing from result")
	}
	if chat.Enabled || chat.TimeWindowMs != 1000 || chat.MaxDuplicates != 3 {
		t.Errorf("chat policy = %+v", chat)
	}

	u := mock.updates[0]
	if u.DefaultTimeWindow == nil || *u.DefaultTimeWindow != 5*time.Second {
		t.Errorf("forwarded DefaultTimeWindow = %v", u.DefaultTimeWindow)
	}
	if u.Enabled != nil {
		t.Error("absent field should stay nil in the update")
	}
}

func TestNotificationService_UpdateConfigError(t *testing.T) {
	mock := newMockDeduplicator()
	mock.updateErr = dedup.ErrInvalidConfig
	svc := NewNotificationService(mock, nil)

	_, err := svc.UpdateConfig(context.Background(), &ConfigPatch{})
	if !errors.Is(err, dedup.ErrInvalidConfig) {
		t.Errorf("UpdateConfig() error = %v, want ErrInvalidConfig", err)
	}
}

func TestNotificationService_GetConfig(t *testing.T) {
	svc := NewNotificationService(newMockDeduplicator(), nil)

	cfg := svc.GetConfig(context.Background())

	if !cfg.Enabled {
		t.Error("default config should be enabled")
	}
	toast, ok := cfg.Tiers[string(dedup.TierToast)]
	if !ok {
		t.Fatal("toast tier missing")
	}
	if toast.TimeWindowMs != 30000 {
		t.Errorf("toast window = %d ms, want 30000", toast.TimeWindowMs)
	}
}

func TestNotificationService_Stats(t *testing.T) {
	mock := newMockDeduplicator()
	mock.stats = dedup.Stats{
		TotalChecks:         10,
		CacheHits:           4,
		CacheMisses:         6,
		AverageResponseTime: 1500 * time.Microsecond,
		Entries:             3,
		Capacity:            1000,
	}
	svc := NewNotificationService(mock, nil)

	s := svc.Stats(context.Background())

	if s.TotalChecks != 10 || s.CacheHits != 4 || s.CacheMisses != 6 {
		t.Errorf("counters = %+v", s)
	}
	if s.AverageResponseTimeMs != 1.5 {
		t.Errorf("AverageResponseTimeMs = %v, want 1.5", s.AverageResponseTimeMs)
	}
	if s.Entries != 3 || s.Capacity != 1000 {
		t.Errorf("entries/capacity = %d/%d", s.Entries, s.Capacity)
	}
}
