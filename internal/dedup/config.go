package dedup

import (
	"time"

	"github.com/SebastienMelki/notifyguard/internal/dedup/internal/optimizer"
	"github.com/SebastienMelki/notifyguard/internal/dedup/internal/service"
)

// Config holds the dedup module configuration.
//
// Environment variable overrides:
//   - DEDUP_SWEEP_INTERVAL: background sweep period (default: 5m)
//   - DEDUP_MAX_AGE:        lifetime of any entry after first sighting (default: 30m)
//   - DEDUP_MAX_ENTRIES:    dedup cache capacity (default: 1000)
//   - DEDUP_FP_RATE:        bloom prefilter false positive rate (default: 0.001)
//   - DEDUP_POLICY_FILE:    optional YAML policy file seeding the configuration
type Config struct {
	SweepInterval   time.Duration `env:"DEDUP_SWEEP_INTERVAL" envDefault:"5m"`
	MaxAge          time.Duration `env:"DEDUP_MAX_AGE"        envDefault:"30m"`
	MaxEntries      int           `env:"DEDUP_MAX_ENTRIES"    envDefault:"1000"`
	PrefilterFPRate float64       `env:"DEDUP_FP_RATE"        envDefault:"0.001"`
	PolicyFile      string        `env:"DEDUP_POLICY_FILE"`

	// Optimizer configuration
	Optimizer OptimizerConfig `envPrefix:""`

	// Policy store configuration
	Store StoreConfig `envPrefix:""`
}

// OptimizerConfig tunes the batching and admission layer.
type OptimizerConfig struct {
	CacheTTL              time.Duration `env:"OPT_CACHE_TTL"       envDefault:"5m"`
	MaxConcurrentRequests int           `env:"OPT_MAX_CONCURRENT"  envDefault:"10"`
	BatchSize             int           `env:"OPT_BATCH_SIZE"      envDefault:"10"`
	DebounceTime          time.Duration `env:"OPT_DEBOUNCE"        envDefault:"50ms"`
	StatsWindow           int           `env:"OPT_STATS_WINDOW"    envDefault:"1000"`
}

// StoreConfig selects where the policy configuration is persisted.
type StoreConfig struct {
	// Enabled turns persistence on.
	Enabled bool `env:"DEDUP_STORE_ENABLED" envDefault:"false"`

	// Driver is sqlite or postgres.
	Driver string `env:"DEDUP_STORE_DRIVER" envDefault:"sqlite"`

	// Path is the SQLite database file.
	Path string `env:"DEDUP_STORE_PATH" envDefault:"notifyguard.db"`

	// DSN is the PostgreSQL connection string.
	DSN string `env:"DEDUP_STORE_DSN"`

	// MaxOpenConns caps the connection pool.
	MaxOpenConns int `env:"DEDUP_STORE_MAX_OPEN_CONNS" envDefault:"5"`

	// ConnMaxLifetime is the maximum connection lifetime.
	ConnMaxLifetime time.Duration `env:"DEDUP_STORE_CONN_MAX_LIFETIME" envDefault:"5m"`
}

// DefaultConfig returns the default dedup configuration.
func DefaultConfig() Config {
	core := service.DefaultConfig()
	opt := optimizer.DefaultConfig()

	return Config{
		SweepInterval:   core.SweepInterval,
		MaxAge:          core.MaxAge,
		MaxEntries:      core.MaxEntries,
		PrefilterFPRate: core.PrefilterFPRate,
		Optimizer: OptimizerConfig{
			CacheTTL:              opt.CacheTTL,
			MaxConcurrentRequests: opt.MaxConcurrentRequests,
			BatchSize:             opt.BatchSize,
			DebounceTime:          opt.DebounceTime,
			StatsWindow:           opt.StatsWindow,
		},
		Store: StoreConfig{
			Driver:          "sqlite",
			Path:            "notifyguard.db",
			MaxOpenConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
	}
}

func (c Config) serviceConfig() service.Config {
	return service.Config{
		SweepInterval:   c.SweepInterval,
		MaxAge:          c.MaxAge,
		MaxEntries:      c.MaxEntries,
		PrefilterFPRate: c.PrefilterFPRate,
	}
}

func (c OptimizerConfig) optimizerConfig() optimizer.Config {
	return optimizer.Config{
		CacheTTL:              c.CacheTTL,
		MaxConcurrentRequests: c.MaxConcurrentRequests,
		BatchSize:             c.BatchSize,
		DebounceTime:          c.DebounceTime,
		StatsWindow:           c.StatsWindow,
	}
}
