// Package nats relays notifications through NATS JetStream, dropping the
// ones the dedup module suppresses onto a separate subject tree.
package nats

import (
	"time"
)

// Config holds NATS connection, stream and relay configuration.
type Config struct {
	// Enabled turns the relay on. The HTTP gateway works without NATS.
	Enabled bool `env:"NATS_ENABLED" envDefault:"false"`

	// URL is the NATS server URL (e.g., "nats://localhost:4222")
	URL string `env:"NATS_URL" envDefault:"nats://localhost:4222"`

	// Name is the client connection name for monitoring
	Name string `env:"NATS_CLIENT_NAME" envDefault:"notifyguard"`

	// MaxReconnects is the maximum number of reconnection attempts
	MaxReconnects int `env:"NATS_MAX_RECONNECTS" envDefault:"60"`

	// ReconnectWait is the time to wait between reconnection attempts
	ReconnectWait time.Duration `env:"NATS_RECONNECT_WAIT" envDefault:"2s"`

	// Timeout is the connection timeout
	Timeout time.Duration `env:"NATS_TIMEOUT" envDefault:"5s"`

	// Stream configuration
	Stream StreamConfig `envPrefix:"NATS_STREAM_"`

	// Relay configuration
	Relay RelayConfig `envPrefix:"NATS_RELAY_"`
}

// StreamConfig holds JetStream stream configuration.
type StreamConfig struct {
	// Name is the stream name
	Name string `env:"NAME" envDefault:"NOTIFICATIONS"`

	// Subjects are the subjects to capture
	Subjects []string `env:"SUBJECTS" envDefault:"notifications.>"`

	// MaxAge is the maximum age of messages in the stream
	MaxAge time.Duration `env:"MAX_AGE" envDefault:"24h"`

	// MaxBytes is the maximum size of the stream in bytes
	MaxBytes int64 `env:"MAX_BYTES" envDefault:"268435456"` // 256MB

	// Replicas is the number of replicas for the stream
	Replicas int `env:"REPLICAS" envDefault:"1"`

	// Storage is the storage type (file or memory)
	Storage string `env:"STORAGE" envDefault:"file"`

	// DuplicateWindow is the JetStream publish dedup window for Nats-Msg-Id
	DuplicateWindow time.Duration `env:"DUPLICATE_WINDOW" envDefault:"2m"`
}

// RelayConfig tunes the inbound consumer and the outbound subjects.
type RelayConfig struct {
	// Consumer is the durable consumer name
	Consumer string `env:"CONSUMER" envDefault:"notifyguard-relay"`

	// InboundPrefix is the subject tree producers publish to
	InboundPrefix string `env:"INBOUND_PREFIX" envDefault:"notifications.inbound"`

	// OutboundPrefix receives notifications that should be shown
	OutboundPrefix string `env:"OUTBOUND_PREFIX" envDefault:"notifications.outbound"`

	// SuppressedPrefix receives notifications that should be blocked
	SuppressedPrefix string `env:"SUPPRESSED_PREFIX" envDefault:"notifications.suppressed"`

	// FetchBatchSize is the number of messages pulled per fetch
	FetchBatchSize int `env:"FETCH_BATCH_SIZE" envDefault:"50"`

	// WorkerCount is the number of concurrent fetch workers
	WorkerCount int `env:"WORKER_COUNT" envDefault:"2"`

	// AckWait is the time to wait for acknowledgment
	AckWait time.Duration `env:"ACK_WAIT" envDefault:"30s"`

	// MaxAckPending is the maximum number of pending acknowledgments
	MaxAckPending int `env:"MAX_ACK_PENDING" envDefault:"1000"`

	// MaxDeliver is the maximum number of delivery attempts
	MaxDeliver int `env:"MAX_DELIVER" envDefault:"5"`

	// RetryDelay is the redelivery delay when the dedup module is at capacity
	RetryDelay time.Duration `env:"RETRY_DELAY" envDefault:"1s"`
}

// ConsumerConfig holds JetStream consumer configuration.
type ConsumerConfig struct {
	// Name is the consumer durable name
	Name string

	// FilterSubject is the subject filter for the consumer
	FilterSubject string

	// FilterSubjects replaces FilterSubject when the consumer reads several
	// subject trees
	FilterSubjects []string

	// AckWait is the time to wait for acknowledgment
	AckWait time.Duration

	// MaxAckPending is the maximum number of pending acknowledgments
	MaxAckPending int

	// MaxDeliver is the maximum number of delivery attempts
	MaxDeliver int
}

// ConsumerConfig returns the durable consumer reading the inbound tree.
func (c RelayConfig) ConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Name:          c.Consumer,
		FilterSubject: c.InboundPrefix + ".>",
		AckWait:       c.AckWait,
		MaxAckPending: c.MaxAckPending,
		MaxDeliver:    c.MaxDeliver,
	}
}

// DefaultRelayConfig returns the relay defaults.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		Consumer:         "notifyguard-relay",
		InboundPrefix:    "notifications.inbound",
		OutboundPrefix:   "notifications.outbound",
		SuppressedPrefix: "notifications.suppressed",
		FetchBatchSize:   50,
		WorkerCount:      2,
		AckWait:          30 * time.Second,
		MaxAckPending:    1000,
		MaxDeliver:       5,
		RetryDelay:       time.Second,
	}
}
