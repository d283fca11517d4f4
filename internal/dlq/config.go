package dlq

// Config holds dead-letter configuration.
type Config struct {
	// Enabled watches the relay consumer for MaxDeliver exhaustion.
	Enabled bool `env:"DLQ_ENABLED" envDefault:"true"`

	// SubjectPrefix is where dead letters land, inside the notification stream
	SubjectPrefix string `env:"DLQ_SUBJECT_PREFIX" envDefault:"notifications.dead"`

	// AlertThreshold logs an error once the backlog reaches this size. Zero disables it.
	AlertThreshold int64 `env:"DLQ_ALERT_THRESHOLD" envDefault:"100"`
}
