// Package service moves notifications that exhausted their delivery attempts
// onto a dead-letter subject so they stop blocking the relay and stay
// inspectable.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/SebastienMelki/notifyguard/internal/observability"
)

// Headers describing where a dead-lettered notification came from.
const (
	HeaderOriginalSubject  = "Notifyguard-Dead-Subject"
	HeaderOriginalConsumer = "Notifyguard-Dead-Consumer"
	HeaderOriginalSequence = "Notifyguard-Dead-Sequence"
	HeaderDeliveries       = "Notifyguard-Dead-Deliveries"
)

// advisorySubject is where the server announces MaxDeliver exhaustion.
func advisorySubject(streamName, consumerName string) string {
	return fmt.Sprintf("$JS.EVENT.ADVISORY.CONSUMER.MAX_DELIVERIES.%s.%s", streamName, consumerName)
}

type maxDeliverAdvisory struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	Stream     string `json:"stream"`
	Consumer   string `json:"consumer"`
	StreamSeq  uint64 `json:"stream_seq"`
	Deliveries uint64 `json:"deliveries"`
}

type messageSource interface {
	GetMsg(ctx context.Context, seq uint64, opts ...jetstream.GetMsgOpt) (*jetstream.RawStreamMsg, error)
}

type publisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Options configures a DLQService.
type Options struct {
	StreamName     string
	ConsumerNames  []string
	SubjectPrefix  string
	AlertThreshold int64
}

// DLQService subscribes to MaxDeliver advisories and republishes the
// original notification under the dead-letter prefix.
type DLQService struct {
	nc      *nats.Conn
	pub     publisher
	source  func(ctx context.Context) (messageSource, error)
	count   func(ctx context.Context) (int64, error)
	opts    Options
	metrics *observability.Metrics
	logger  *slog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewDLQService creates a DLQService reading and writing through js.
func NewDLQService(
	js jetstream.JetStream,
	nc *nats.Conn,
	opts Options,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *DLQService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &DLQService{
		nc:      nc,
		pub:     js,
		opts:    opts,
		metrics: metrics,
		logger:  logger.With("component", "dlq-service"),
	}
	s.source = func(ctx context.Context) (messageSource, error) {
		return js.Stream(ctx, opts.StreamName)
	}
	s.count = func(ctx context.Context) (int64, error) {
		return countSubjects(ctx, js, opts.StreamName, opts.SubjectPrefix+".>")
	}
	return s
}

// Start subscribes to the advisory subject of every monitored consumer.
func (s *DLQService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, consumer := range s.opts.ConsumerNames {
		subject := advisorySubject(s.opts.StreamName, consumer)
		sub, err := s.nc.Subscribe(subject, func(msg *nats.Msg) {
			if err := s.HandleAdvisory(ctx, msg.Data); err != nil {
				s.logger.Error("dead-letter failed", "subject", subject, "error", err)
			}
		})
		if err != nil {
			s.unsubscribeLocked()
			return fmt.Errorf("failed to subscribe to advisory %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
		s.logger.Debug("subscribed to MaxDeliver advisory", "subject", subject)
	}

	s.logger.Info("DLQ service started",
		"stream", s.opts.StreamName,
		"consumers", s.opts.ConsumerNames,
		"prefix", s.opts.SubjectPrefix,
	)
	return nil
}

// HandleAdvisory dead-letters the message an advisory points at.
func (s *DLQService) HandleAdvisory(ctx context.Context, data []byte) error {
	var adv maxDeliverAdvisory
	if err := json.Unmarshal(data, &adv); err != nil {
		return fmt.Errorf("failed to parse MaxDeliver advisory: %w", err)
	}

	src, err := s.source(ctx)
	if err != nil {
		return fmt.Errorf("failed to get stream %s: %w", s.opts.StreamName, err)
	}
	raw, err := src.GetMsg(ctx, adv.StreamSeq)
	if err != nil {
		return fmt.Errorf("failed to fetch message %d: %w", adv.StreamSeq, err)
	}

	out := &nats.Msg{
		Subject: s.opts.SubjectPrefix + "." + adv.Consumer,
		Data:    raw.Data,
		Header:  nats.Header{},
	}
	for k, v := range raw.Header {
		out.Header[k] = v
	}
	// Repeated advisories for the same sequence collapse in the publish window.
	out.Header.Set(nats.MsgIdHdr, fmt.Sprintf("dead-%s-%d", adv.Consumer, adv.StreamSeq))
	out.Header.Set(HeaderOriginalSubject, raw.Subject)
	out.Header.Set(HeaderOriginalConsumer, adv.Consumer)
	out.Header.Set(HeaderOriginalSequence, strconv.FormatUint(adv.StreamSeq, 10))
	out.Header.Set(HeaderDeliveries, strconv.FormatUint(adv.Deliveries, 10))

	if _, err := s.pub.PublishMsg(ctx, out); err != nil {
		return fmt.Errorf("failed to publish dead letter: %w", err)
	}

	if s.metrics != nil {
		s.metrics.DeadLettered.Add(ctx, 1,
			metric.WithAttributes(attribute.String("consumer", adv.Consumer)),
		)
	}
	s.logger.Warn("notification dead-lettered",
		"subject", out.Subject,
		"original_subject", raw.Subject,
		"stream_seq", adv.StreamSeq,
		"deliveries", adv.Deliveries,
	)

	s.checkThreshold(ctx)
	return nil
}

func (s *DLQService) checkThreshold(ctx context.Context) {
	if s.opts.AlertThreshold <= 0 || s.count == nil {
		return
	}
	n, err := s.count(ctx)
	if err != nil {
		s.logger.Debug("dead-letter count unavailable", "error", err)
		return
	}
	if n >= s.opts.AlertThreshold {
		s.logger.Error("dead-letter backlog above threshold",
			"count", n,
			"threshold", s.opts.AlertThreshold,
		)
	}
}

// Stop drops every advisory subscription.
func (s *DLQService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribeLocked()
	s.logger.Info("DLQ service stopped")
}

func (s *DLQService) unsubscribeLocked() {
	for _, sub := range s.subs {
		if !sub.IsValid() {
			continue
		}
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Error("failed to unsubscribe from advisory",
				"subject", sub.Subject,
				"error", err,
			)
		}
	}
	s.subs = nil
}

func countSubjects(ctx context.Context, js jetstream.JetStream, streamName, filter string) (int64, error) {
	stream, err := js.Stream(ctx, streamName)
	if err != nil {
		return 0, fmt.Errorf("failed to get stream: %w", err)
	}
	info, err := stream.Info(ctx, jetstream.WithSubjectFilter(filter))
	if err != nil {
		return 0, fmt.Errorf("failed to get stream info: %w", err)
	}
	var total int64
	for _, n := range info.State.Subjects {
		total += int64(n)
	}
	return total, nil
}
