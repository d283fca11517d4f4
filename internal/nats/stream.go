package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
)

// StreamManager declares the notification stream and its durable consumers.
type StreamManager struct {
	js     jetstream.JetStream
	config StreamConfig
	logger *slog.Logger
}

// NewStreamManager creates a StreamManager.
func NewStreamManager(js jetstream.JetStream, cfg StreamConfig, logger *slog.Logger) *StreamManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamManager{
		js:     js,
		config: cfg,
		logger: logger.With("component", "stream-manager"),
	}
}

// EnsureStream declares the stream, reconciling an existing one with the
// configured limits.
func (m *StreamManager) EnsureStream(ctx context.Context) (jetstream.Stream, error) {
	stream, err := m.js.CreateOrUpdateStream(ctx, m.config.jetstream())
	if err != nil {
		return nil, fmt.Errorf("failed to declare stream %s: %w", m.config.Name, err)
	}

	m.logger.Info("stream ready",
		"name", m.config.Name,
		"subjects", m.config.Subjects,
		"storage", m.config.Storage,
		"max_age", m.config.MaxAge,
		"duplicate_window", m.config.DuplicateWindow,
	)
	return stream, nil
}

// EnsureConsumers declares every durable consumer on stream.
func (m *StreamManager) EnsureConsumers(ctx context.Context, stream jetstream.Stream, configs []ConsumerConfig) error {
	for _, cfg := range configs {
		if _, err := stream.CreateOrUpdateConsumer(ctx, cfg.jetstream()); err != nil {
			return fmt.Errorf("failed to declare consumer %s: %w", cfg.Name, err)
		}
		m.logger.Info("consumer ready",
			"name", cfg.Name,
			"filters", cfg.filters(),
			"max_deliver", cfg.MaxDeliver,
		)
	}
	return nil
}

// jetstream maps the stream settings. Duplicates backs the Nats-Msg-Id
// publish dedup the relay relies on.
func (c StreamConfig) jetstream() jetstream.StreamConfig {
	storage := jetstream.FileStorage
	if strings.EqualFold(c.Storage, "memory") {
		storage = jetstream.MemoryStorage
	}
	return jetstream.StreamConfig{
		Name:        c.Name,
		Subjects:    c.Subjects,
		Storage:     storage,
		MaxAge:      c.MaxAge,
		MaxBytes:    c.MaxBytes,
		Replicas:    c.Replicas,
		Duplicates:  c.DuplicateWindow,
		Retention:   jetstream.LimitsPolicy,
		Discard:     jetstream.DiscardOld,
		AllowDirect: true,
	}
}

func (c ConsumerConfig) filters() []string {
	if len(c.FilterSubjects) > 0 {
		return c.FilterSubjects
	}
	if c.FilterSubject != "" {
		return []string{c.FilterSubject}
	}
	return nil
}

func (c ConsumerConfig) jetstream() jetstream.ConsumerConfig {
	cfg := jetstream.ConsumerConfig{
		Durable:       c.Name,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       c.AckWait,
		MaxAckPending: c.MaxAckPending,
		MaxDeliver:    c.MaxDeliver,
		// Backlog from before the consumer existed is stale.
		DeliverPolicy: jetstream.DeliverNewPolicy,
	}
	if f := c.filters(); len(f) == 1 {
		cfg.FilterSubject = f[0]
	} else {
		cfg.FilterSubjects = f
	}
	return cfg
}
