package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/SebastienMelki/notifyguard/internal/dedup"
	"github.com/SebastienMelki/notifyguard/internal/observability"
)

// Headers set on relayed notifications.
const (
	HeaderDuplicate   = "Notifyguard-Duplicate"
	HeaderSimilarity  = "Notifyguard-Similarity"
	HeaderMatchedHash = "Notifyguard-Matched-Hash"
)

// Relay outcomes, recorded on the relay.messages counter.
const (
	outcomeDelivered  = "delivered"
	outcomeSuppressed = "suppressed"
	outcomeMalformed  = "malformed"
	outcomeRetry      = "retry"
	outcomeFailed     = "failed"
)

// Publisher is the subset of jetstream.JetStream the relay publishes with.
type Publisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Relay consumes inbound notifications, checks each one against the dedup
// module and republishes it on the outbound or suppressed subject tree.
type Relay struct {
	js         jetstream.JetStream
	pub        Publisher
	dedup      dedup.Deduplicator
	cfg        RelayConfig
	streamName string
	metrics    *observability.Metrics
	logger     *slog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewRelay creates a relay reading the durable consumer cfg.Consumer on
// streamName. metrics may be nil.
func NewRelay(
	js jetstream.JetStream,
	dd dedup.Deduplicator,
	cfg RelayConfig,
	streamName string,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Relay {
	if logger == nil {
		logger = slog.Default()
	}

	return &Relay{
		js:         js,
		pub:        js,
		dedup:      dd,
		cfg:        cfg,
		streamName: streamName,
		metrics:    metrics,
		logger:     logger.With("component", "relay"),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start looks up the consumer and launches the fetch workers. It returns
// once the workers are running.
func (r *Relay) Start(ctx context.Context) error {
	if r.isStopped() {
		return ErrRelayStopped
	}

	stream, err := r.js.Stream(ctx, r.streamName)
	if err != nil {
		return fmt.Errorf("failed to get stream: %w", err)
	}

	consumer, err := stream.Consumer(ctx, r.cfg.Consumer)
	if err != nil {
		return fmt.Errorf("failed to get consumer: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return ErrRelayStopped
	}
	if r.started {
		return nil
	}
	r.started = true

	workers := r.cfg.WorkerCount
	if workers < 1 {
		workers = 1
	}

	r.logger.Info("starting relay",
		"stream", r.streamName,
		"consumer", r.cfg.Consumer,
		"workers", workers,
		"inbound", r.cfg.InboundPrefix+".>",
	)

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r.workerLoop(ctx, consumer, id)
		}(i)
	}

	go func() {
		wg.Wait()
		close(r.doneCh)
	}()

	return nil
}

// Stop signals the workers and waits for them to finish or ctx to expire.
func (r *Relay) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.stopped {
		r.logger.Info("stopping relay")
		r.stopped = true
		close(r.stopCh)
		if !r.started {
			close(r.doneCh)
		}
	}
	r.mu.Unlock()

	select {
	case <-r.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Relay) isStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

func (r *Relay) workerLoop(ctx context.Context, consumer jetstream.Consumer, id int) {
	logger := r.logger.With("worker_id", id)
	logger.Debug("worker started")
	defer logger.Debug("worker stopped")

	fetchSize := r.cfg.FetchBatchSize
	if fetchSize < 1 {
		fetchSize = 50
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		default:
		}

		msgs, err := consumer.Fetch(fetchSize, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) {
				logger.Error("failed to fetch messages", "error", err)
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return
				case <-r.stopCh:
					return
				}
			}
			continue
		}

		for msg := range msgs.Messages() {
			r.processMessage(ctx, msg)
		}

		if err := msgs.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			logger.Error("messages iteration error", "error", err)
		}
	}
}

// processMessage checks one notification and settles the message: Ack once
// republished, Term on a payload that can never decode, Nak otherwise. A
// failed republish rolls the check back before the Nak.
func (r *Relay) processMessage(ctx context.Context, msg jetstream.Msg) {
	n, err := decodeNotification(msg.Data())
	if err != nil {
		r.logger.Error("poison message, terminating",
			"subject", msg.Subject(),
			"error", err,
		)
		if termErr := msg.TermWithReason(outcomeMalformed); termErr != nil {
			r.logger.Error("failed to terminate message", "error", termErr)
		}
		r.record(ctx, outcomeMalformed, "")
		return
	}

	res, err := r.dedup.CheckDuplicate(ctx, n)
	if err != nil {
		if errors.Is(err, dedup.ErrTooManyConcurrentRequests) {
			r.logger.Debug("dedup at capacity, redelivering later", "id", n.ID)
			if nakErr := msg.NakWithDelay(r.cfg.RetryDelay); nakErr != nil {
				r.logger.Error("failed to NAK message", "error", nakErr)
			}
			r.record(ctx, outcomeRetry, n.Category)
			return
		}

		r.logger.Error("duplicate check failed", "id", n.ID, "error", err)
		if nakErr := msg.Nak(); nakErr != nil {
			r.logger.Error("failed to NAK message", "error", nakErr)
		}
		r.record(ctx, outcomeFailed, n.Category)
		return
	}

	out := r.outboundMsg(n, res, msg.Data())
	if _, err := r.pub.PublishMsg(ctx, out); err != nil {
		r.logger.Error("failed to republish notification",
			"subject", out.Subject,
			"error", fmt.Errorf("%w: %w", ErrPublishFailed, err),
		)
		// The redelivery must be judged as if this attempt never happened.
		r.dedup.Rollback(n, res)
		if nakErr := msg.Nak(); nakErr != nil {
			r.logger.Error("failed to NAK message", "error", nakErr)
		}
		r.record(ctx, outcomeFailed, n.Category)
		return
	}

	if err := msg.Ack(); err != nil {
		r.logger.Error("failed to ACK message", "error", err)
	}

	outcome := outcomeDelivered
	if res.ShouldBlock {
		outcome = outcomeSuppressed
	}
	r.record(ctx, outcome, n.Category)

	r.logger.Debug("notification relayed",
		"id", n.ID,
		"subject", out.Subject,
		"duplicate", res.IsDuplicate,
	)
}

// outboundMsg builds the republished message. The payload is forwarded
// untouched; the verdict travels in headers.
func (r *Relay) outboundMsg(n dedup.Notification, res dedup.Result, payload []byte) *nats.Msg {
	prefix := r.cfg.OutboundPrefix
	if res.ShouldBlock {
		prefix = r.cfg.SuppressedPrefix
	}

	out := nats.NewMsg(prefix + "." + SubjectToken(n.Category))
	out.Data = payload
	out.Header.Set(HeaderDuplicate, strconv.FormatBool(res.IsDuplicate))
	if res.Similarity > 0 {
		out.Header.Set(HeaderSimilarity, strconv.FormatFloat(res.Similarity, 'f', 4, 64))
	}
	if res.MatchedHash != "" {
		out.Header.Set(HeaderMatchedHash, res.MatchedHash)
	}
	if n.ID != "" {
		// Redeliveries of the same inbound message republish idempotently.
		out.Header.Set(nats.MsgIdHdr, n.ID)
	}
	return out
}

func (r *Relay) record(ctx context.Context, outcome, category string) {
	if r.metrics == nil {
		return
	}
	r.metrics.RelayMessages.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("category", dedup.NormalizeCategory(category)),
	))
}

func decodeNotification(data []byte) (dedup.Notification, error) {
	var n dedup.Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return dedup.Notification{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	return n, nil
}

// SubjectToken turns a category into a single NATS subject token.
func SubjectToken(category string) string {
	c := dedup.NormalizeCategory(category)
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '.', '*', '>':
			return '_'
		}
		return r
	}, c)
}
