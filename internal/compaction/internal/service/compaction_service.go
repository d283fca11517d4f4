// Package service merges the small Parquet files the archive writes per flush
// into larger ones.
//
// The object store layout is the only state. A run lists cold hour
// partitions, reads the small files of each, rewrites their rows sorted by
// timestamp into one file and deletes the originals after the upload
// succeeded. A failed run leaves the originals in place for the next one.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/SebastienMelki/notifyguard/internal/archive"
	"github.com/SebastienMelki/notifyguard/internal/observability"
)

// Default compaction parameters.
const (
	DefaultTargetSize int64 = 128 * 1024 * 1024
	DefaultMinFiles   int   = 2
)

// ObjectStore is the slice of the archive's S3 client compaction needs.
type ObjectStore interface {
	List(ctx context.Context, prefix string) ([]archive.Object, error)
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, keys []string) error
}

// CompactionService merges small files in cold partitions.
type CompactionService struct {
	store      ObjectStore
	prefix     string
	writer     *archive.ParquetWriter
	targetSize int64
	minFiles   int
	now        func() time.Time
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewCompactionService creates a CompactionService for objects under prefix.
func NewCompactionService(
	store ObjectStore,
	prefix string,
	parquetCfg archive.ParquetConfig,
	targetSize int64,
	minFiles int,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *CompactionService {
	if logger == nil {
		logger = slog.Default()
	}
	if targetSize <= 0 {
		targetSize = DefaultTargetSize
	}
	if minFiles < 2 {
		minFiles = DefaultMinFiles
	}

	return &CompactionService{
		store:      store,
		prefix:     prefix,
		writer:     archive.NewParquetWriter(parquetCfg),
		targetSize: targetSize,
		minFiles:   minFiles,
		now:        time.Now,
		metrics:    metrics,
		logger:     logger.With("component", "compaction-service"),
	}
}

// CompactAll compacts every cold partition. A failing partition is logged
// and skipped.
func (cs *CompactionService) CompactAll(ctx context.Context) error {
	start := time.Now()

	objects, err := cs.store.List(ctx, cs.prefix+"/")
	if err != nil {
		return fmt.Errorf("list archive: %w", err)
	}
	partitions := coldPartitions(objects, cs.now())

	keys := make([]string, 0, len(partitions))
	for p := range partitions {
		keys = append(keys, p)
	}
	slices.Sort(keys)

	var compacted int
	for _, p := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		did, err := cs.compactPartition(ctx, p, partitions[p])
		if err != nil {
			cs.logger.Error("failed to compact partition", "partition", p, "error", err)
			continue
		}
		if did {
			compacted++
		}
	}

	duration := float64(time.Since(start).Milliseconds())
	if cs.metrics != nil {
		cs.metrics.CompactionRuns.Add(ctx, 1)
		cs.metrics.CompactionDuration.Record(ctx, duration)
	}

	cs.logger.Info("compaction run complete",
		"partitions_total", len(partitions),
		"partitions_compacted", compacted,
		"duration_ms", duration,
	)
	return nil
}

// compactPartition returns false when the partition has too few small files.
func (cs *CompactionService) compactPartition(ctx context.Context, partition string, objects []archive.Object) (bool, error) {
	var small []archive.Object
	for _, obj := range objects {
		if obj.Size < cs.targetSize {
			small = append(small, obj)
		}
	}

	if len(small) < cs.minFiles {
		if cs.metrics != nil {
			cs.metrics.CompactionPartitionsSkipped.Add(ctx, 1)
		}
		return false, nil
	}

	cs.logger.Info("compacting partition", "partition", partition, "small_files", len(small))

	for i, batch := range cs.groupIntoBatches(small) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if err := cs.mergeBatch(ctx, partition, batch); err != nil {
			return false, fmt.Errorf("merge batch %d: %w", i, err)
		}
	}
	return true, nil
}

// groupIntoBatches packs files into batches of roughly targetSize. A trailing
// batch smaller than minFiles is left alone.
func (cs *CompactionService) groupIntoBatches(files []archive.Object) [][]archive.Object {
	var batches [][]archive.Object
	var current []archive.Object
	var size int64

	for _, f := range files {
		if size+f.Size > cs.targetSize && len(current) >= cs.minFiles {
			batches = append(batches, current)
			current = nil
			size = 0
		}
		current = append(current, f)
		size += f.Size
	}
	if len(current) >= cs.minFiles {
		batches = append(batches, current)
	}
	return batches
}

func (cs *CompactionService) mergeBatch(ctx context.Context, partition string, batch []archive.Object) error {
	var rows []archive.DecisionRow
	var merged []string

	for _, obj := range batch {
		data, err := cs.store.Download(ctx, obj.Key)
		if err != nil {
			return err
		}
		decoded, err := archive.ReadRows(data)
		if err != nil {
			// Unreadable files stay where they are for manual inspection.
			cs.logger.Warn("skipping unreadable archive file", "key", obj.Key, "error", err)
			continue
		}
		rows = append(rows, decoded...)
		merged = append(merged, obj.Key)
	}

	if len(merged) < 2 {
		return nil
	}

	slices.SortStableFunc(rows, func(a, b archive.DecisionRow) int {
		switch {
		case a.TimestampMS < b.TimestampMS:
			return -1
		case a.TimestampMS > b.TimestampMS:
			return 1
		}
		return 0
	})

	data, err := cs.writer.Write(rows)
	if err != nil {
		return err
	}

	key := compactedKey(partition)
	if err := cs.store.Upload(ctx, key, data); err != nil {
		return err
	}

	cs.logger.Info("uploaded compacted file",
		"key", key,
		"size_bytes", len(data),
		"rows", len(rows),
		"source_files", len(merged),
	)

	if err := cs.store.Delete(ctx, merged); err != nil {
		// The compacted file is already in place; the rows are now stored
		// twice until the originals are removed by hand.
		cs.logger.Error("failed to delete compacted originals",
			"partition", partition,
			"keys", merged,
			"error", err,
		)
		return nil
	}

	if cs.metrics != nil {
		cs.metrics.CompactionFilesCompacted.Add(ctx, int64(len(merged)))
	}
	return nil
}

var partitionRegex = regexp.MustCompile(
	`^(.*?/verdict=[^/]+/category=[^/]+/year=(\d{4})/month=(\d{2})/day=(\d{2})/hour=(\d{2})/)[^/]+$`,
)

// partitionOf returns the partition prefix of key, or "" when key is not in
// the archive layout.
func partitionOf(key string) (string, time.Time, bool) {
	m := partitionRegex.FindStringSubmatch(key)
	if m == nil {
		return "", time.Time{}, false
	}
	year, _ := strconv.Atoi(m[2])
	month, _ := strconv.Atoi(m[3])
	day, _ := strconv.Atoi(m[4])
	hour, _ := strconv.Atoi(m[5])
	return m[1], time.Date(year, time.Month(month), day, hour, 0, 0, 0, time.UTC), true
}

// coldPartitions groups objects by partition, keeping partitions older than
// the current hour. The archiver may still be writing to the current one.
func coldPartitions(objects []archive.Object, now time.Time) map[string][]archive.Object {
	currentHour := now.UTC().Truncate(time.Hour)
	out := make(map[string][]archive.Object)
	for _, obj := range objects {
		p, at, ok := partitionOf(obj.Key)
		if !ok || !at.Before(currentHour) {
			continue
		}
		out[p] = append(out[p], obj)
	}
	return out
}

func compactedKey(partition string) string {
	return fmt.Sprintf("%scompacted_%s.parquet", partition, uuid.Must(uuid.NewV7()).String())
}
