// Package dlq captures notifications the relay could not process within
// MaxDeliver attempts.
//
// JetStream emits an advisory when a consumer gives up on a message. The
// module listens for those advisories, fetches the original notification by
// sequence and republishes it under a dead-letter subject in the same stream,
// outside every consumer's filter.
package dlq

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/SebastienMelki/notifyguard/internal/dlq/internal/service"
	"github.com/SebastienMelki/notifyguard/internal/observability"
)

// Module is the dead-letter module facade.
type Module struct {
	service *service.DLQService
}

// New creates a dead-letter module watching consumerNames on streamName.
func New(
	js jetstream.JetStream,
	nc *nats.Conn,
	streamName string,
	consumerNames []string,
	cfg Config,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Module {
	if logger == nil {
		logger = slog.Default()
	}

	svc := service.NewDLQService(js, nc, service.Options{
		StreamName:     streamName,
		ConsumerNames:  consumerNames,
		SubjectPrefix:  cfg.SubjectPrefix,
		AlertThreshold: cfg.AlertThreshold,
	}, metrics, logger)

	return &Module{service: svc}
}

// Start begins listening for MaxDeliver advisories.
func (m *Module) Start(ctx context.Context) error {
	return m.service.Start(ctx)
}

// Stop drops the advisory subscriptions.
func (m *Module) Stop() {
	m.service.Stop()
}
