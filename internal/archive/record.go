package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/SebastienMelki/notifyguard/internal/dedup"
	"github.com/SebastienMelki/notifyguard/internal/nats"
)

// Verdicts stored in the verdict column.
const (
	VerdictDelivered  = "delivered"
	VerdictSuppressed = "suppressed"
)

// DecisionRow is one relayed notification and the verdict it received.
type DecisionRow struct {
	NotificationID string  `parquet:"notification_id,snappy,optional"`
	Title          string  `parquet:"title,snappy"`
	Message        string  `parquet:"message,snappy"`
	Category       string  `parquet:"category,snappy,dict"`
	Priority       string  `parquet:"priority,snappy,dict"`
	Verdict        string  `parquet:"verdict,dict"`
	Duplicate      bool    `parquet:"duplicate"`
	Similarity     float64 `parquet:"similarity"`
	MatchedHash    string  `parquet:"matched_hash,snappy,optional"`
	Subject        string  `parquet:"subject,snappy,dict"`
	TimestampMS    int64   `parquet:"timestamp_ms"`
	StreamSequence uint64  `parquet:"stream_sequence"`

	// Partition columns (for Hive partitioning)
	Year  int `parquet:"year,dict"`
	Month int `parquet:"month,dict"`
	Day   int `parquet:"day,dict"`
	Hour  int `parquet:"hour,dict"`
}

// Partition groups rows into one object.
type Partition struct {
	Verdict  string
	Category string
	Year     int
	Month    int
	Day      int
	Hour     int
}

// Partition returns the row's partition.
func (r DecisionRow) Partition() Partition {
	return Partition{
		Verdict:  r.Verdict,
		Category: partitionValue(r.Category),
		Year:     r.Year,
		Month:    r.Month,
		Day:      r.Day,
		Hour:     r.Hour,
	}
}

// RowFromMsg decodes a relayed message. Messages under suppressedPrefix get
// the suppressed verdict. The stream timestamp is used when available.
func RowFromMsg(msg jetstream.Msg, suppressedPrefix string, now time.Time) (DecisionRow, error) {
	var n dedup.Notification
	if err := json.Unmarshal(msg.Data(), &n); err != nil {
		return DecisionRow{}, fmt.Errorf("decode notification: %w", err)
	}

	row := DecisionRow{
		NotificationID: n.ID,
		Title:          n.Title,
		Message:        n.Message,
		Category:       dedup.NormalizeCategory(n.Category),
		Priority:       string(n.Priority),
		Verdict:        VerdictDelivered,
		Subject:        msg.Subject(),
	}
	if strings.HasPrefix(msg.Subject(), suppressedPrefix+".") {
		row.Verdict = VerdictSuppressed
	}

	if h := msg.Headers(); h != nil {
		row.Duplicate, _ = strconv.ParseBool(h.Get(nats.HeaderDuplicate))
		row.Similarity, _ = strconv.ParseFloat(h.Get(nats.HeaderSimilarity), 64)
		row.MatchedHash = h.Get(nats.HeaderMatchedHash)
	}

	ts := now
	if md, err := msg.Metadata(); err == nil && md != nil {
		row.StreamSequence = md.Sequence.Stream
		if !md.Timestamp.IsZero() {
			ts = md.Timestamp
		}
	}
	ts = ts.UTC()

	row.TimestampMS = ts.UnixMilli()
	row.Year = ts.Year()
	row.Month = int(ts.Month())
	row.Day = ts.Day()
	row.Hour = ts.Hour()

	return row, nil
}

// partitionValue keeps a category safe inside an object key.
func partitionValue(s string) string {
	if s == "" {
		return "none"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, strings.ToLower(s))
}

// ParquetWriter encodes rows as a Parquet file in memory.
type ParquetWriter struct {
	config ParquetConfig
}

// NewParquetWriter creates a ParquetWriter.
func NewParquetWriter(cfg ParquetConfig) *ParquetWriter {
	return &ParquetWriter{config: cfg}
}

// Write encodes rows and returns the file bytes.
func (w *ParquetWriter) Write(rows []DecisionRow) ([]byte, error) {
	if len(rows) == 0 {
		return nil, ErrNoRowsToWrite
	}

	var buf bytes.Buffer
	writer := parquet.NewGenericWriter[DecisionRow](&buf,
		parquet.Compression(w.codec()),
		parquet.CreatedBy("notifyguard-archive", "1.0.0", ""),
	)

	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("failed to write rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}
	return buf.Bytes(), nil
}

func (w *ParquetWriter) codec() compress.Codec {
	switch w.config.Compression {
	case "gzip":
		return &parquet.Gzip
	case "zstd":
		return &parquet.Zstd
	case "none":
		return &parquet.Uncompressed
	default:
		return &parquet.Snappy
	}
}

// ReadRows decodes a Parquet file written by ParquetWriter.
func ReadRows(data []byte) ([]DecisionRow, error) {
	rows, err := parquet.Read[DecisionRow](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to read parquet: %w", err)
	}
	return rows, nil
}
