package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/SebastienMelki/notifyguard/internal/nats"
	"github.com/SebastienMelki/notifyguard/internal/observability"
)

// Uploader stores one encoded file under key.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte) error
}

// trackedRow keeps the message so ACK/NAK can wait for the upload.
type trackedRow struct {
	row DecisionRow
	msg jetstream.Msg
}

// Archiver consumes relay verdicts and writes them to object storage in
// Parquet files partitioned by verdict, category and hour.
type Archiver struct {
	js               jetstream.JetStream
	uploader         Uploader
	parquet          *ParquetWriter
	cfg              Config
	streamName       string
	suppressedPrefix string
	keyPrefix        string
	metrics          *observability.Metrics
	logger           *slog.Logger
	now              func() time.Time

	mu        sync.Mutex
	batch     []trackedRow
	lastFlush time.Time
	started   bool
	stopped   bool
	stopCh    chan struct{}
	doneCh    chan struct{}

	// flushMu serializes uploads so a batch is never split across
	// concurrent flushes.
	flushMu sync.Mutex
}

// NewArchiver creates an archiver reading cfg.Consumer on streamName.
// metrics may be nil.
func NewArchiver(
	js jetstream.JetStream,
	uploader Uploader,
	cfg Config,
	streamName string,
	relay nats.RelayConfig,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Archiver{
		js:               js,
		uploader:         uploader,
		parquet:          NewParquetWriter(cfg.Parquet),
		cfg:              cfg,
		streamName:       streamName,
		suppressedPrefix: relay.SuppressedPrefix,
		keyPrefix:        cfg.S3.Prefix,
		metrics:          metrics,
		logger:           logger.With("component", "archiver"),
		now:              time.Now,
		batch:            make([]trackedRow, 0, max(cfg.Batch.MaxRows, 0)),
		lastFlush:        time.Now(),
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}
}

// Start launches the fetch workers and the flush timer.
func (a *Archiver) Start(ctx context.Context) error {
	if a.isStopped() {
		return ErrArchiverStopped
	}

	stream, err := a.js.Stream(ctx, a.streamName)
	if err != nil {
		return fmt.Errorf("failed to get stream: %w", err)
	}

	consumer, err := stream.Consumer(ctx, a.cfg.Consumer)
	if err != nil {
		return fmt.Errorf("failed to get consumer: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return ErrArchiverStopped
	}
	if a.started {
		return nil
	}
	a.started = true

	workers := max(a.cfg.Batch.WorkerCount, 1)

	a.logger.Info("starting archiver",
		"stream", a.streamName,
		"consumer", a.cfg.Consumer,
		"workers", workers,
		"max_rows", a.cfg.Batch.MaxRows,
		"flush_interval", a.cfg.Batch.FlushInterval,
	)

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			a.workerLoop(ctx, consumer, id)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.flushTimer(ctx)
	}()

	go func() {
		wg.Wait()
		close(a.doneCh)
	}()

	return nil
}

// Stop halts fetching, waits for the workers up to ShutdownTimeout and
// flushes what is left. Rows whose upload fails are NAKed for redelivery.
func (a *Archiver) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.stopped {
		a.logger.Info("stopping archiver")
		a.stopped = true
		close(a.stopCh)
		if !a.started {
			close(a.doneCh)
		}
	}
	a.mu.Unlock()

	timeout := a.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-a.doneCh:
	case <-waitCtx.Done():
		a.logger.Warn("timed out waiting for archive workers, flushing anyway", "timeout", timeout)
	}

	if err := a.flush(ctx); err != nil {
		return fmt.Errorf("final flush failed: %w", err)
	}
	a.logger.Info("archiver stopped")
	return nil
}

func (a *Archiver) isStopped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopped
}

// fetcher is the subset of jetstream.Consumer the workers use.
type fetcher interface {
	Fetch(batch int, opts ...jetstream.FetchOpt) (jetstream.MessageBatch, error)
}

func (a *Archiver) workerLoop(ctx context.Context, consumer fetcher, id int) {
	logger := a.logger.With("worker_id", id)
	logger.Debug("worker started")
	defer logger.Debug("worker stopped")

	fetchSize := a.cfg.Batch.FetchBatchSize
	if fetchSize < 1 {
		fetchSize = 100
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
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
				case <-a.stopCh:
					return
				}
			}
			continue
		}

		for msg := range msgs.Messages() {
			a.processMessage(ctx, msg)
		}
		if err := msgs.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			logger.Error("messages iteration error", "error", err)
		}
	}
}

// processMessage buffers one verdict. Undecodable payloads are terminated.
func (a *Archiver) processMessage(ctx context.Context, msg jetstream.Msg) {
	row, err := RowFromMsg(msg, a.suppressedPrefix, a.now())
	if err != nil {
		a.logger.Error("poison message, terminating",
			"subject", msg.Subject(),
			"error", err,
		)
		if termErr := msg.TermWithReason("malformed"); termErr != nil {
			a.logger.Error("failed to terminate message", "error", termErr)
		}
		return
	}

	a.mu.Lock()
	a.batch = append(a.batch, trackedRow{row: row, msg: msg})
	shouldFlush := a.cfg.Batch.MaxRows > 0 && len(a.batch) >= a.cfg.Batch.MaxRows
	a.mu.Unlock()

	if shouldFlush {
		if err := a.flush(ctx); err != nil {
			a.logger.Error("failed to flush batch", "error", err)
		}
	}
}

func (a *Archiver) flushTimer(ctx context.Context) {
	interval := a.cfg.Batch.FlushInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.mu.Lock()
			pending := len(a.batch)
			since := time.Since(a.lastFlush)
			a.mu.Unlock()

			if pending > 0 && since >= interval {
				if err := a.flush(ctx); err != nil {
					a.logger.Error("failed to flush batch on timer", "error", err)
				}
			}
		}
	}
}

// flush uploads the buffered rows, one object per partition. Messages are
// ACKed once their partition is stored and NAKed otherwise.
func (a *Archiver) flush(ctx context.Context) error {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	start := time.Now()

	a.mu.Lock()
	if len(a.batch) == 0 {
		a.mu.Unlock()
		return nil
	}
	tracked := a.batch
	a.batch = make([]trackedRow, 0, max(a.cfg.Batch.MaxRows, 0))
	a.lastFlush = time.Now()
	a.mu.Unlock()

	partitions := groupByPartition(tracked)

	var errs []error
	for p, rows := range partitions {
		if err := a.writePartition(ctx, p, rows); err != nil {
			a.logger.Error("failed to write partition, NAKing for redelivery",
				"verdict", p.Verdict,
				"category", p.Category,
				"rows", len(rows),
				"error", err,
			)
			for _, t := range rows {
				if nakErr := t.msg.Nak(); nakErr != nil {
					a.logger.Error("failed to NAK message", "error", nakErr)
				}
			}
			errs = append(errs, err)
			continue
		}

		for _, t := range rows {
			if ackErr := t.msg.Ack(); ackErr != nil {
				a.logger.Error("failed to ACK message after upload", "error", ackErr)
			}
		}
		if a.metrics != nil {
			a.metrics.ArchiveFilesWritten.Add(ctx, 1)
			a.metrics.ArchiveRows.Add(ctx, int64(len(rows)))
		}
	}

	if a.metrics != nil {
		a.metrics.ArchiveFlushLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
	}

	a.logger.Info("archive batch flushed",
		"rows", len(tracked),
		"partitions", len(partitions),
		"failed", len(errs),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return errors.Join(errs...)
}

func groupByPartition(tracked []trackedRow) map[Partition][]trackedRow {
	partitions := make(map[Partition][]trackedRow)
	for _, t := range tracked {
		p := t.row.Partition()
		partitions[p] = append(partitions[p], t)
	}
	return partitions
}

func (a *Archiver) writePartition(ctx context.Context, p Partition, tracked []trackedRow) error {
	rows := make([]DecisionRow, len(tracked))
	for i, t := range tracked {
		rows[i] = t.row
	}

	data, err := a.parquet.Write(rows)
	if err != nil {
		return fmt.Errorf("failed to write parquet: %w", err)
	}

	key := ObjectKey(a.keyPrefix, p)
	if err := a.uploader.Upload(ctx, key, data); err != nil {
		return err
	}

	if a.metrics != nil {
		a.metrics.ArchiveFileSize.Record(ctx, int64(len(data)))
	}
	a.logger.Debug("partition written", "key", key, "rows", len(rows), "size_bytes", len(data))
	return nil
}
