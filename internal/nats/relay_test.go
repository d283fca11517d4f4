// Package nats tests the relay ACK/NAK/Term behavior and subject routing.
package nats

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/SebastienMelki/notifyguard/internal/dedup"
	"github.com/SebastienMelki/notifyguard/internal/observability"
)

// mockJetStreamMsg implements jetstream.Msg for testing.
type mockJetStreamMsg struct {
	data       []byte
	subject    string
	ackCalled  atomic.Bool
	nakCalled  atomic.Bool
	termCalled atomic.Bool
	nakDelay   time.Duration
}

func (m *mockJetStreamMsg) Data() []byte         { return m.data }
func (m *mockJetStreamMsg) Subject() string      { return m.subject }
func (m *mockJetStreamMsg) Reply() string        { return "" }
func (m *mockJetStreamMsg) Headers() nats.Header { return nats.Header{} }
func (m *mockJetStreamMsg) InProgress() error    { return nil }

func (m *mockJetStreamMsg) Ack() error {
	m.ackCalled.Store(true)
	return nil
}

func (m *mockJetStreamMsg) Nak() error {
	m.nakCalled.Store(true)
	return nil
}

func (m *mockJetStreamMsg) Term() error {
	m.termCalled.Store(true)
	return nil
}

func (m *mockJetStreamMsg) TermWithReason(string) error {
	m.termCalled.Store(true)
	return nil
}

func (m *mockJetStreamMsg) NakWithDelay(delay time.Duration) error {
	m.nakCalled.Store(true)
	m.nakDelay = delay
	return nil
}

func (m *mockJetStreamMsg) DoubleAck(ctx context.Context) error {
	return m.Ack()
}

func (m *mockJetStreamMsg) Metadata() (*jetstream.MsgMetadata, error) {
	return &jetstream.MsgMetadata{}, nil
}

// mockPublisher records published messages.
type mockPublisher struct {
	mu        sync.Mutex
	published []*nats.Msg
	err       error
}

func (p *mockPublisher) PublishMsg(_ context.Context, msg *nats.Msg, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.published = append(p.published, msg)
	return &jetstream.PubAck{Stream: "NOTIFICATIONS", Sequence: uint64(len(p.published))}, nil
}

// stubDeduplicator answers every check with the same result.
type stubDeduplicator struct {
	result     dedup.Result
	err        error
	seen       []dedup.Notification
	rolledBack []dedup.Notification
}

func (s *stubDeduplicator) CheckDuplicate(_ context.Context, n dedup.Notification) (dedup.Result, error) {
	s.seen = append(s.seen, n)
	return s.result, s.err
}

func (s *stubDeduplicator) Block(string, string, string)        {}
func (s *stubDeduplicator) Unblock(string, string, string) bool { return false }
func (s *stubDeduplicator) GetConfig() dedup.PolicyConfig       { return dedup.DefaultPolicyConfig() }
func (s *stubDeduplicator) Stats() dedup.Stats                  { return dedup.Stats{} }
func (s *stubDeduplicator) Rollback(n dedup.Notification, _ dedup.Result) bool {
	s.rolledBack = append(s.rolledBack, n)
	return true
}
func (s *stubDeduplicator) Compare(string, string, dedup.SimilarityMethod, float64) (dedup.Comparison, error) {
	return dedup.Comparison{}, nil
}
func (s *stubDeduplicator) UpdateConfig(context.Context, dedup.ConfigUpdate) (dedup.PolicyConfig, error) {
	return dedup.DefaultPolicyConfig(), nil
}

func createTestRelay(t *testing.T, dd dedup.Deduplicator, pub Publisher) *Relay {
	t.Helper()

	metrics, err := observability.NewMetrics(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("Failed to create test metrics: %v", err)
	}

	r := NewRelay(nil, dd, DefaultRelayConfig(), "NOTIFICATIONS", metrics,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.pub = pub
	return r
}

func inbound(payload string) *mockJetStreamMsg {
	return &mockJetStreamMsg{
		data:    []byte(payload),
		subject: "notifications.inbound.budget",
	}
}

func TestProcessMessage_NewNotificationDelivered(t *testing.T) {
	pub := &mockPublisher{}
	dd := &stubDeduplicator{}
	r := createTestRelay(t, dd, pub)

	msg := inbound(`{"id":"n-1","title":"Budget","message":"Over limit","category":"Budget","priority":"high"}`)
	r.processMessage(context.Background(), msg)

	if !msg.ackCalled.Load() {
		t.Error("msg.Ack() should be called after republishing")
	}
	if msg.nakCalled.Load() || msg.termCalled.Load() {
		t.Error("delivered message should not be NAKed or terminated")
	}

	if len(pub.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.published))
	}
	out := pub.published[0]
	if out.Subject != "notifications.outbound.budget" {
		t.Errorf("subject = %q, want notifications.outbound.budget", out.Subject)
	}
	if string(out.Data) != string(msg.data) {
		t.Error("payload should be forwarded untouched")
	}
	if got := out.Header.Get(HeaderDuplicate); got != "false" {
		t.Errorf("%s = %q, want false", HeaderDuplicate, got)
	}
	if got := out.Header.Get(nats.MsgIdHdr); got != "n-1" {
		t.Errorf("Nats-Msg-Id = %q, want n-1", got)
	}

	if len(dd.seen) != 1 || dd.seen[0].Priority != dedup.PriorityHigh {
		t.Errorf("checked notifications = %+v", dd.seen)
	}
}

func TestProcessMessage_BlockedNotificationSuppressed(t *testing.T) {
	pub := &mockPublisher{}
	dd := &stubDeduplicator{result: dedup.Result{
		IsDuplicate: true,
		ShouldBlock: true,
		Similarity:  0.9321,
		MatchedHash: "feed",
	}}
	r := createTestRelay(t, dd, pub)

	msg := inbound(`{"title":"Budget","message":"Over limit"}`)
	r.processMessage(context.Background(), msg)

	if !msg.ackCalled.Load() {
		t.Error("suppressed message should still be ACKed")
	}
	if len(pub.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.published))
	}
	out := pub.published[0]
	if out.Subject != "notifications.suppressed.general" {
		t.Errorf("subject = %q, want notifications.suppressed.general", out.Subject)
	}
	if got := out.Header.Get(HeaderSimilarity); got != "0.9321" {
		t.Errorf("%s = %q", HeaderSimilarity, got)
	}
	if got := out.Header.Get(HeaderMatchedHash); got != "feed" {
		t.Errorf("%s = %q", HeaderMatchedHash, got)
	}
	if got := out.Header.Get(nats.MsgIdHdr); got != "" {
		t.Errorf("Nats-Msg-Id = %q, want none without an id", got)
	}
}

func TestProcessMessage_MalformedPayloadTerminated(t *testing.T) {
	pub := &mockPublisher{}
	dd := &stubDeduplicator{}
	r := createTestRelay(t, dd, pub)

	msg := inbound(`not json`)
	r.processMessage(context.Background(), msg)

	if !msg.termCalled.Load() {
		t.Error("msg.Term() should be called for poison messages")
	}
	if msg.ackCalled.Load() || msg.nakCalled.Load() {
		t.Error("poison message should not be ACKed or NAKed")
	}
	if len(dd.seen) != 0 || len(pub.published) != 0 {
		t.Error("poison message should not reach dedup or the publisher")
	}
}

func TestProcessMessage_CapacityNaksWithDelay(t *testing.T) {
	pub := &mockPublisher{}
	dd := &stubDeduplicator{err: dedup.ErrTooManyConcurrentRequests}
	r := createTestRelay(t, dd, pub)

	msg := inbound(`{"title":"a","message":"b"}`)
	r.processMessage(context.Background(), msg)

	if !msg.nakCalled.Load() {
		t.Fatal("capacity rejection should NAK for redelivery")
	}
	if msg.nakDelay != DefaultRelayConfig().RetryDelay {
		t.Errorf("NAK delay = %v, want %v", msg.nakDelay, DefaultRelayConfig().RetryDelay)
	}
	if msg.ackCalled.Load() || msg.termCalled.Load() {
		t.Error("capacity rejection should not ACK or terminate")
	}
	if len(pub.published) != 0 {
		t.Error("nothing should be published on rejection")
	}
}

func TestProcessMessage_CheckFailureNaks(t *testing.T) {
	dd := &stubDeduplicator{err: dedup.ErrBatchFailed}
	r := createTestRelay(t, dd, &mockPublisher{})

	msg := inbound(`{"title":"a","message":"b"}`)
	r.processMessage(context.Background(), msg)

	if !msg.nakCalled.Load() || msg.ackCalled.Load() {
		t.Error("batch failure should NAK without ACK")
	}
}

func TestProcessMessage_PublishFailureNaks(t *testing.T) {
	pub := &mockPublisher{err: errors.New("nats: timeout")}
	r := createTestRelay(t, &stubDeduplicator{}, pub)

	msg := inbound(`{"title":"a","message":"b"}`)
	r.processMessage(context.Background(), msg)

	if !msg.nakCalled.Load() {
		t.Error("publish failure should NAK")
	}
	if msg.ackCalled.Load() {
		t.Error("publish failure should not ACK")
	}
}

func TestProcessMessage_PublishFailureRollsBackCheck(t *testing.T) {
	dd := &stubDeduplicator{}
	r := createTestRelay(t, dd, &mockPublisher{err: errors.New("nats: timeout")})

	r.processMessage(context.Background(), inbound(`{"id":"n-7","title":"a","message":"b"}`))

	if len(dd.rolledBack) != 1 || dd.rolledBack[0].ID != "n-7" {
		t.Errorf("rolled back = %+v, want the failed notification", dd.rolledBack)
	}
}

func TestProcessMessage_RedeliveryAfterPublishFailureIsNotDuplicate(t *testing.T) {
	cfg := dedup.DefaultConfig()
	cfg.Optimizer.BatchSize = 1
	mod, err := dedup.New(cfg)
	if err != nil {
		t.Fatalf("dedup.New: %v", err)
	}
	defer mod.Stop()

	pub := &mockPublisher{err: errors.New("nats: no responders")}
	r := createTestRelay(t, mod, pub)
	payload := `{"id":"n-1","title":"Budget Alert","message":"You exceeded your food budget","category":"budget"}`

	first := inbound(payload)
	r.processMessage(context.Background(), first)
	if !first.nakCalled.Load() {
		t.Fatal("first delivery should be NAKed when publishing fails")
	}

	pub.mu.Lock()
	pub.err = nil
	pub.mu.Unlock()

	redelivered := inbound(payload)
	r.processMessage(context.Background(), redelivered)
	if !redelivered.ackCalled.Load() {
		t.Fatal("redelivery should be ACKed once published")
	}

	if len(pub.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.published))
	}
	out := pub.published[0]
	if out.Subject != "notifications.outbound.budget" {
		t.Errorf("subject = %q, want notifications.outbound.budget", out.Subject)
	}
	if got := out.Header.Get(HeaderDuplicate); got != "false" {
		t.Errorf("%s = %q, want false for a notification never delivered", HeaderDuplicate, got)
	}

	again := inbound(payload)
	r.processMessage(context.Background(), again)
	if len(pub.published) != 2 {
		t.Fatalf("published %d messages, want 2", len(pub.published))
	}
	if got := pub.published[1].Header.Get(HeaderDuplicate); got != "true" {
		t.Errorf("%s = %q on a repeat after delivery, want true", HeaderDuplicate, got)
	}
}

func TestProcessMessage_NilMetrics(t *testing.T) {
	pub := &mockPublisher{}
	r := NewRelay(nil, &stubDeduplicator{}, DefaultRelayConfig(), "NOTIFICATIONS", nil, nil)
	r.pub = pub

	msg := inbound(`{"title":"a","message":"b"}`)
	r.processMessage(context.Background(), msg)

	if !msg.ackCalled.Load() {
		t.Error("relay without metrics should still ACK")
	}
}

func TestSubjectToken(t *testing.T) {
	tests := []struct {
		category string
		expected string
	}{
		{"", "general"},
		{"   ", "general"},
		{"Budget", "budget"},
		{"  Sync Errors ", "sync_errors"},
		{"app.update", "app_update"},
		{"a*b>c", "a_b_c"},
	}

	for _, tt := range tests {
		if got := SubjectToken(tt.category); got != tt.expected {
			t.Errorf("SubjectToken(%q) = %q, want %q", tt.category, got, tt.expected)
		}
	}
}

func TestRelayConfig_ConsumerConfig(t *testing.T) {
	cc := DefaultRelayConfig().ConsumerConfig()

	if cc.Name != "notifyguard-relay" {
		t.Errorf("Name = %q", cc.Name)
	}
	if cc.FilterSubject != "notifications.inbound.>" {
		t.Errorf("FilterSubject = %q, want notifications.inbound.>", cc.FilterSubject)
	}
	if cc.MaxDeliver != 5 || cc.AckWait != 30*time.Second {
		t.Errorf("consumer config = %+v", cc)
	}
}

func TestRelay_StopWithoutStart(t *testing.T) {
	r := NewRelay(nil, &stubDeduplicator{}, DefaultRelayConfig(), "NOTIFICATIONS", nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := r.Stop(ctx); err != nil {
		t.Errorf("Stop() = %v, want nil", err)
	}
	if err := r.Stop(ctx); err != nil {
		t.Errorf("second Stop() = %v, want nil", err)
	}
	if err := r.Start(ctx); !errors.Is(err, ErrRelayStopped) {
		t.Errorf("Start() after Stop = %v, want ErrRelayStopped", err)
	}
}
