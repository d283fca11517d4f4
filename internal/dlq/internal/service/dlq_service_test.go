package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/SebastienMelki/notifyguard/internal/observability"
)

type fakeSource struct {
	msgs map[uint64]*jetstream.RawStreamMsg
}

func (f *fakeSource) GetMsg(_ context.Context, seq uint64, _ ...jetstream.GetMsgOpt) (*jetstream.RawStreamMsg, error) {
	m, ok := f.msgs[seq]
	if !ok {
		return nil, jetstream.ErrMsgNotFound
	}
	return m, nil
}

type fakePublisher struct {
	published []*nats.Msg
	err       error
}

func (f *fakePublisher) PublishMsg(_ context.Context, msg *nats.Msg, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.published = append(f.published, msg)
	return &jetstream.PubAck{Stream: "NOTIFICATIONS", Sequence: uint64(len(f.published))}, nil
}

func newTestService(t *testing.T, src messageSource, pub publisher) *DLQService {
	t.Helper()
	m, err := observability.NewMetrics(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return &DLQService{
		pub: pub,
		source: func(context.Context) (messageSource, error) {
			return src, nil
		},
		opts: Options{
			StreamName:    "NOTIFICATIONS",
			ConsumerNames: []string{"notifyguard-relay"},
			SubjectPrefix: "notifications.dead",
		},
		metrics: m,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

const advisory = `{"type":"io.nats.jetstream.advisory.v1.max_deliver","stream":"NOTIFICATIONS","consumer":"notifyguard-relay","stream_seq":42,"deliveries":5}`

func TestAdvisorySubject(t *testing.T) {
	got := advisorySubject("NOTIFICATIONS", "notifyguard-relay")
	want := "$JS.EVENT.ADVISORY.CONSUMER.MAX_DELIVERIES.NOTIFICATIONS.notifyguard-relay"
	if got != want {
		t.Errorf("advisorySubject() = %q, want %q", got, want)
	}
}

func TestHandleAdvisory_RepublishesOriginal(t *testing.T) {
	src := &fakeSource{msgs: map[uint64]*jetstream.RawStreamMsg{
		42: {
			Subject:  "notifications.inbound.ios",
			Sequence: 42,
			Data:     []byte(`{"id":"n-1","title":"Build failed"}`),
			Header:   nats.Header{nats.MsgIdHdr: []string{"n-1"}, "X-Trace": []string{"abc"}},
		},
	}}
	pub := &fakePublisher{}
	svc := newTestService(t, src, pub)

	if err := svc.HandleAdvisory(context.Background(), []byte(advisory)); err != nil {
		t.Fatalf("HandleAdvisory() error = %v", err)
	}
	if len(pub.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.published))
	}

	out := pub.published[0]
	if out.Subject != "notifications.dead.notifyguard-relay" {
		t.Errorf("Subject = %q", out.Subject)
	}
	if string(out.Data) != `{"id":"n-1","title":"Build failed"}` {
		t.Errorf("Data = %s", out.Data)
	}
	checks := map[string]string{
		nats.MsgIdHdr:          "dead-notifyguard-relay-42",
		HeaderOriginalSubject:  "notifications.inbound.ios",
		HeaderOriginalConsumer: "notifyguard-relay",
		HeaderOriginalSequence: "42",
		HeaderDeliveries:       "5",
		"X-Trace":              "abc",
	}
	for k, want := range checks {
		if got := out.Header.Get(k); got != want {
			t.Errorf("header %s = %q, want %q", k, got, want)
		}
	}
}

func TestHandleAdvisory_Errors(t *testing.T) {
	src := &fakeSource{msgs: map[uint64]*jetstream.RawStreamMsg{
		42: {Subject: "notifications.inbound.ios", Data: []byte(`{}`)},
	}}

	t.Run("malformed advisory", func(t *testing.T) {
		pub := &fakePublisher{}
		svc := newTestService(t, src, pub)
		if err := svc.HandleAdvisory(context.Background(), []byte("not json")); err == nil {
			t.Fatal("expected parse error")
		}
		if len(pub.published) != 0 {
			t.Error("nothing should be published")
		}
	})

	t.Run("message already gone", func(t *testing.T) {
		svc := newTestService(t, &fakeSource{}, &fakePublisher{})
		err := svc.HandleAdvisory(context.Background(), []byte(advisory))
		if !errors.Is(err, jetstream.ErrMsgNotFound) {
			t.Fatalf("error = %v, want ErrMsgNotFound", err)
		}
	})

	t.Run("publish failure", func(t *testing.T) {
		boom := errors.New("boom")
		svc := newTestService(t, src, &fakePublisher{err: boom})
		if err := svc.HandleAdvisory(context.Background(), []byte(advisory)); !errors.Is(err, boom) {
			t.Fatalf("error = %v, want boom", err)
		}
	})

	t.Run("stream lookup failure", func(t *testing.T) {
		svc := newTestService(t, src, &fakePublisher{})
		svc.source = func(context.Context) (messageSource, error) {
			return nil, jetstream.ErrStreamNotFound
		}
		if err := svc.HandleAdvisory(context.Background(), []byte(advisory)); !errors.Is(err, jetstream.ErrStreamNotFound) {
			t.Fatalf("error = %v, want ErrStreamNotFound", err)
		}
	})
}

func TestHandleAdvisory_ThresholdCheck(t *testing.T) {
	src := &fakeSource{msgs: map[uint64]*jetstream.RawStreamMsg{
		42: {Subject: "notifications.inbound.ios", Data: []byte(`{}`)},
	}}
	svc := newTestService(t, src, &fakePublisher{})
	svc.opts.AlertThreshold = 2

	calls := 0
	svc.count = func(context.Context) (int64, error) {
		calls++
		return 3, nil
	}

	if err := svc.HandleAdvisory(context.Background(), []byte(advisory)); err != nil {
		t.Fatalf("HandleAdvisory() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("count called %d times, want 1", calls)
	}

	svc.opts.AlertThreshold = 0
	if err := svc.HandleAdvisory(context.Background(), []byte(advisory)); err != nil {
		t.Fatalf("HandleAdvisory() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("count should not run with threshold disabled, got %d calls", calls)
	}
}

func TestStop_WithoutSubscriptions(t *testing.T) {
	svc := newTestService(t, &fakeSource{}, &fakePublisher{})
	svc.Stop()
	svc.Stop()
}
