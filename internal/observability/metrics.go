package observability

import (
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments used across notifyguard services.
// Instruments are created once at startup and shared with middleware,
// handlers, and service components.
type Metrics struct {
	// HTTP metrics
	HTTPRequestDuration otelmetric.Float64Histogram
	HTTPRequestTotal    otelmetric.Int64Counter
	HTTPRequestErrors   otelmetric.Int64Counter

	// Dedup core metrics
	DedupChecks     otelmetric.Int64Counter
	DedupDuplicates otelmetric.Int64Counter
	DedupBlocked    otelmetric.Int64Counter
	DedupSwept      otelmetric.Int64Counter
	DedupEntries    otelmetric.Int64Gauge

	// Optimizer metrics
	OptimizerCacheHits     otelmetric.Int64Counter
	OptimizerCacheMisses   otelmetric.Int64Counter
	OptimizerRejected      otelmetric.Int64Counter
	OptimizerBatchSize     otelmetric.Int64Histogram
	OptimizerFlushLatency  otelmetric.Float64Histogram
	OptimizerBatchFailures otelmetric.Int64Counter
	CheckDuration          otelmetric.Float64Histogram

	// Policy metrics
	PolicyUpdates otelmetric.Int64Counter

	// NATS relay metrics
	RelayMessages otelmetric.Int64Counter

	// Decision archive metrics
	ArchiveRows         otelmetric.Int64Counter
	ArchiveFilesWritten otelmetric.Int64Counter
	ArchiveFileSize     otelmetric.Int64Histogram
	ArchiveFlushLatency otelmetric.Float64Histogram

	// Archive compaction metrics
	CompactionRuns              otelmetric.Int64Counter
	CompactionDuration          otelmetric.Float64Histogram
	CompactionFilesCompacted    otelmetric.Int64Counter
	CompactionPartitionsSkipped otelmetric.Int64Counter

	// Dead-letter metrics
	DeadLettered otelmetric.Int64Counter
}

// NewMetrics creates all metric instruments from the given Meter.
// Each instrument is created with a descriptive name, unit, and description
// following OpenTelemetry semantic conventions.
func NewMetrics(meter otelmetric.Meter) (*Metrics, error) {
	var m Metrics
	var err error

	// HTTP metrics
	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http.request.duration",
		otelmetric.WithUnit("ms"),
		otelmetric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	m.HTTPRequestTotal, err = meter.Int64Counter(
		"http.request.total",
		otelmetric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	m.HTTPRequestErrors, err = meter.Int64Counter(
		"http.request.errors",
		otelmetric.WithDescription("HTTP request errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, err
	}

	// Dedup core metrics
	m.DedupChecks, err = meter.Int64Counter(
		"dedup.checks",
		otelmetric.WithDescription("Duplicate checks evaluated by the core, by decision path"),
	)
	if err != nil {
		return nil, err
	}

	m.DedupDuplicates, err = meter.Int64Counter(
		"dedup.duplicates",
		otelmetric.WithDescription("Notifications classified as duplicates"),
	)
	if err != nil {
		return nil, err
	}

	m.DedupBlocked, err = meter.Int64Counter(
		"dedup.blocked",
		otelmetric.WithDescription("Notifications that should be blocked"),
	)
	if err != nil {
		return nil, err
	}

	m.DedupSwept, err = meter.Int64Counter(
		"dedup.swept",
		otelmetric.WithDescription("Cache entries removed by the background sweep"),
	)
	if err != nil {
		return nil, err
	}

	m.DedupEntries, err = meter.Int64Gauge(
		"dedup.cache.entries",
		otelmetric.WithDescription("Fingerprints currently held in the dedup cache"),
	)
	if err != nil {
		return nil, err
	}

	// Optimizer metrics
	m.OptimizerCacheHits, err = meter.Int64Counter(
		"optimizer.cache.hits",
		otelmetric.WithDescription("Checks answered from the optimizer result cache"),
	)
	if err != nil {
		return nil, err
	}

	m.OptimizerCacheMisses, err = meter.Int64Counter(
		"optimizer.cache.misses",
		otelmetric.WithDescription("Checks that missed the optimizer result cache"),
	)
	if err != nil {
		return nil, err
	}

	m.OptimizerRejected, err = meter.Int64Counter(
		"optimizer.rejected",
		otelmetric.WithDescription("Checks rejected by the concurrency admission limiter"),
	)
	if err != nil {
		return nil, err
	}

	m.OptimizerBatchSize, err = meter.Int64Histogram(
		"optimizer.batch.size",
		otelmetric.WithDescription("Optimizer flush batch sizes"),
	)
	if err != nil {
		return nil, err
	}

	m.OptimizerFlushLatency, err = meter.Float64Histogram(
		"optimizer.flush.latency",
		otelmetric.WithUnit("ms"),
		otelmetric.WithDescription("Batch flush latency in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	m.OptimizerBatchFailures, err = meter.Int64Counter(
		"optimizer.batch.failures",
		otelmetric.WithDescription("Flush batches failed by a core fault"),
	)
	if err != nil {
		return nil, err
	}

	m.CheckDuration, err = meter.Float64Histogram(
		"dedup.check.duration",
		otelmetric.WithUnit("ms"),
		otelmetric.WithDescription("End-to-end duplicate check duration in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	// Policy metrics
	m.PolicyUpdates, err = meter.Int64Counter(
		"policy.updates",
		otelmetric.WithDescription("Policy configuration updates, by result"),
	)
	if err != nil {
		return nil, err
	}

	// NATS relay metrics
	m.RelayMessages, err = meter.Int64Counter(
		"relay.messages",
		otelmetric.WithDescription("Notifications processed by the NATS relay, by outcome"),
	)
	if err != nil {
		return nil, err
	}

	// Decision archive metrics
	m.ArchiveRows, err = meter.Int64Counter(
		"archive.rows",
		otelmetric.WithDescription("Relay decisions written to the archive"),
	)
	if err != nil {
		return nil, err
	}

	m.ArchiveFilesWritten, err = meter.Int64Counter(
		"archive.files.written",
		otelmetric.WithDescription("Parquet files uploaded to object storage"),
	)
	if err != nil {
		return nil, err
	}

	m.ArchiveFileSize, err = meter.Int64Histogram(
		"archive.file.size",
		otelmetric.WithUnit("By"),
		otelmetric.WithDescription("Size of uploaded Parquet files"),
	)
	if err != nil {
		return nil, err
	}

	m.ArchiveFlushLatency, err = meter.Float64Histogram(
		"archive.flush.latency",
		otelmetric.WithUnit("ms"),
		otelmetric.WithDescription("Archive batch flush latency in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	// Archive compaction metrics
	m.CompactionRuns, err = meter.Int64Counter(
		"compaction.runs",
		otelmetric.WithDescription("Archive compaction runs"),
	)
	if err != nil {
		return nil, err
	}

	m.CompactionDuration, err = meter.Float64Histogram(
		"compaction.duration",
		otelmetric.WithUnit("ms"),
		otelmetric.WithDescription("Archive compaction run duration in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	m.CompactionFilesCompacted, err = meter.Int64Counter(
		"compaction.files.compacted",
		otelmetric.WithDescription("Small archive files merged into larger ones"),
	)
	if err != nil {
		return nil, err
	}

	m.CompactionPartitionsSkipped, err = meter.Int64Counter(
		"compaction.partitions.skipped",
		otelmetric.WithDescription("Cold partitions without enough small files to compact"),
	)
	if err != nil {
		return nil, err
	}

	// Dead-letter metrics
	m.DeadLettered, err = meter.Int64Counter(
		"dlq.messages",
		otelmetric.WithDescription("Notifications moved to the dead-letter subject after exhausting MaxDeliver"),
	)
	if err != nil {
		return nil, err
	}

	return &m, nil
}
