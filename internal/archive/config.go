// Package archive writes the relay's verdicts to object storage as Parquet
// files for offline analysis. The archive is write-only; nothing reads it
// back into the dedup module.
package archive

import (
	"time"

	"github.com/SebastienMelki/notifyguard/internal/nats"
)

// Config holds decision archive configuration.
type Config struct {
	// Enabled turns the archive on. It requires NATS_ENABLED.
	Enabled bool `env:"ARCHIVE_ENABLED" envDefault:"false"`

	// Consumer is the durable consumer name
	Consumer string `env:"ARCHIVE_CONSUMER" envDefault:"notifyguard-archive"`

	// ShutdownTimeout bounds the wait for workers before the final flush
	ShutdownTimeout time.Duration `env:"ARCHIVE_SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// S3 configuration
	S3 S3Config `envPrefix:"ARCHIVE_S3_"`

	// Batching configuration
	Batch BatchConfig `envPrefix:"ARCHIVE_BATCH_"`

	// Parquet configuration
	Parquet ParquetConfig `envPrefix:"ARCHIVE_PARQUET_"`
}

// S3Config holds S3/MinIO configuration.
type S3Config struct {
	// Endpoint is the S3 endpoint URL (e.g., "http://localhost:9000" for MinIO)
	Endpoint string `env:"ENDPOINT" envDefault:"http://localhost:9000"`

	// Region is the AWS region
	Region string `env:"REGION" envDefault:"us-east-1"`

	// Bucket is the S3 bucket name
	Bucket string `env:"BUCKET" envDefault:"notifyguard-decisions"`

	// AccessKeyID is the AWS access key ID
	AccessKeyID string `env:"ACCESS_KEY_ID" envDefault:"minioadmin"`

	// SecretAccessKey is the AWS secret access key
	SecretAccessKey string `env:"SECRET_ACCESS_KEY" envDefault:"minioadmin"`

	// UsePathStyle enables path-style addressing (required for MinIO)
	UsePathStyle bool `env:"USE_PATH_STYLE" envDefault:"true"`

	// Prefix is the key prefix for all objects
	Prefix string `env:"PREFIX" envDefault:"decisions"`
}

// BatchConfig holds row batching configuration.
type BatchConfig struct {
	// MaxRows flushes a batch once it holds this many decisions
	MaxRows int `env:"MAX_ROWS" envDefault:"5000"`

	// FlushInterval is the maximum time to wait before flushing a batch
	FlushInterval time.Duration `env:"FLUSH_INTERVAL" envDefault:"1m"`

	// FetchBatchSize is the number of messages pulled per fetch
	FetchBatchSize int `env:"FETCH_BATCH_SIZE" envDefault:"100"`

	// WorkerCount is the number of concurrent fetch workers
	WorkerCount int `env:"WORKER_COUNT" envDefault:"1"`

	// AckWait must exceed FlushInterval: messages stay unacked until their
	// file is uploaded
	AckWait time.Duration `env:"ACK_WAIT" envDefault:"3m"`

	// MaxAckPending must exceed MaxRows
	MaxAckPending int `env:"MAX_ACK_PENDING" envDefault:"10000"`
}

// ParquetConfig holds Parquet writer configuration.
type ParquetConfig struct {
	// Compression is the compression codec (snappy, gzip, zstd, none)
	Compression string `env:"COMPRESSION" envDefault:"snappy"`
}

// ConsumerConfig returns the durable consumer reading both verdict trees.
func (c Config) ConsumerConfig(relay nats.RelayConfig) nats.ConsumerConfig {
	return nats.ConsumerConfig{
		Name: c.Consumer,
		FilterSubjects: []string{
			relay.OutboundPrefix + ".>",
			relay.SuppressedPrefix + ".>",
		},
		AckWait:       c.Batch.AckWait,
		MaxAckPending: c.Batch.MaxAckPending,
		MaxDeliver:    -1,
	}
}
