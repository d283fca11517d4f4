// Package compaction merges the archive's small per-flush Parquet files into
// larger ones on a schedule.
//
// Only partitions older than the current hour are touched, and originals are
// deleted only after the merged file has been uploaded.
package compaction

import (
	"context"
	"log/slog"
	"time"

	"github.com/SebastienMelki/notifyguard/internal/archive"
	"github.com/SebastienMelki/notifyguard/internal/compaction/internal/service"
	"github.com/SebastienMelki/notifyguard/internal/observability"
)

// Config holds compaction configuration.
type Config struct {
	// Enabled runs compaction alongside the archive.
	Enabled bool `env:"COMPACTION_ENABLED" envDefault:"true"`

	// Schedule is the interval between runs.
	Schedule time.Duration `env:"COMPACTION_SCHEDULE" envDefault:"1h"`

	// TargetSize is the compacted file size in bytes (128 MB).
	TargetSize int64 `env:"COMPACTION_TARGET_SIZE" envDefault:"134217728"`

	// MinFiles is how many small files a partition needs before it is merged.
	MinFiles int `env:"COMPACTION_MIN_FILES" envDefault:"2"`
}

// ObjectStore is implemented by *archive.S3Client.
type ObjectStore = service.ObjectStore

var _ ObjectStore = (*archive.S3Client)(nil)

// Module is the compaction module facade.
type Module struct {
	svc       *service.CompactionService
	scheduler *service.Scheduler
	config    Config
	logger    *slog.Logger
}

// New creates a compaction module over the archive's objects.
func New(
	store ObjectStore,
	archiveCfg archive.Config,
	cfg Config,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Module {
	if logger == nil {
		logger = slog.Default()
	}

	svc := service.NewCompactionService(store, archiveCfg.S3.Prefix, archiveCfg.Parquet,
		cfg.TargetSize, cfg.MinFiles, metrics, logger)

	return &Module{
		svc:       svc,
		scheduler: service.NewScheduler(svc, cfg.Schedule, logger),
		config:    cfg,
		logger:    logger.With("component", "compaction-module"),
	}
}

// Start begins scheduled compaction. It is a no-op when disabled.
func (m *Module) Start(ctx context.Context) {
	if !m.config.Enabled {
		m.logger.Info("compaction disabled")
		return
	}
	m.logger.Info("starting compaction module",
		"schedule", m.config.Schedule,
		"target_size", m.config.TargetSize,
		"min_files", m.config.MinFiles,
	)
	m.scheduler.Start(ctx)
}

// Stop cancels the schedule and waits for an interrupted pass to end.
func (m *Module) Stop() {
	m.scheduler.Stop()
}

// RunNow compacts immediately, outside the schedule.
func (m *Module) RunNow(ctx context.Context) error {
	return m.svc.CompactAll(ctx)
}
