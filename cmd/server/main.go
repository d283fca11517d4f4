// Command server runs the notification dedup service: the HTTP gateway and,
// when enabled, the NATS relay with its dead-letter watcher, decision archive
// and archive compaction.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/SebastienMelki/notifyguard/internal/archive"
	"github.com/SebastienMelki/notifyguard/internal/auth"
	"github.com/SebastienMelki/notifyguard/internal/compaction"
	"github.com/SebastienMelki/notifyguard/internal/dedup"
	"github.com/SebastienMelki/notifyguard/internal/dlq"
	"github.com/SebastienMelki/notifyguard/internal/gateway"
	"github.com/SebastienMelki/notifyguard/internal/nats"
	"github.com/SebastienMelki/notifyguard/internal/observability"
)

// Config holds all server configuration.
type Config struct {
	// LogLevel is the log level (debug, info, warn, error)
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// LogFormat is the log format (json, text)
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Observability configuration
	Observability observability.Config `envPrefix:""`

	// Dedup module configuration
	Dedup dedup.Config `envPrefix:""`

	// HTTP gateway configuration
	Gateway gateway.Config `envPrefix:""`

	// NATS configuration
	NATS nats.Config `envPrefix:""`

	// API key authentication configuration
	Auth auth.Config `envPrefix:""`

	// Decision archive configuration
	Archive archive.Config `envPrefix:""`

	// Archive compaction configuration
	Compaction compaction.Config `envPrefix:""`

	// Dead-letter configuration
	DLQ dlq.Config `envPrefix:""`
}

func main() {
	// Optional .env for local development
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		slog.Error("failed to parse config", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(cfg Config, logger *slog.Logger) error {
	logger.Info("starting notifyguard server",
		"log_level", cfg.LogLevel,
		"http_addr", cfg.Gateway.Addr,
		"store_enabled", cfg.Dedup.Store.Enabled,
		"nats_enabled", cfg.NATS.Enabled,
		"auth_enabled", cfg.Auth.Enabled,
		"archive_enabled", cfg.Archive.Enabled,
	)

	if cfg.Auth.Enabled && !cfg.Dedup.Store.Enabled {
		return errors.New("AUTH_ENABLED requires DEDUP_STORE_ENABLED: API keys are kept in the policy store database")
	}
	if cfg.Archive.Enabled && !cfg.NATS.Enabled {
		return errors.New("ARCHIVE_ENABLED requires NATS_ENABLED: the archive reads relay verdicts")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(cfg.Observability)
	if err != nil {
		return err
	}
	defer func() {
		if err := obs.Shutdown(context.Background()); err != nil {
			logger.Error("observability shutdown error", "error", err)
		}
	}()

	dedupOpts := []dedup.Option{
		dedup.WithLogger(logger),
		dedup.WithMetrics(obs.Metrics()),
	}
	var serverOpts []gateway.ServerOption

	if cfg.Dedup.Store.Enabled {
		store, err := dedup.OpenPolicyStore(ctx, cfg.Dedup.Store, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		dedupOpts = append(dedupOpts, dedup.WithPolicyStore(store))
		serverOpts = append(serverOpts, gateway.WithReadinessCheck("policy_store", store.Ping))

		if cfg.Auth.Enabled {
			authModule := auth.New(store.DB(), store.Driver(), cfg.Auth, logger)
			if err := authModule.Migrate(ctx); err != nil {
				return err
			}
			serverOpts = append(serverOpts, gateway.WithAuthenticator(authModule))
		}
	}

	module, err := dedup.New(cfg.Dedup, dedupOpts...)
	if err != nil {
		return err
	}
	if err := module.Start(ctx); err != nil {
		return err
	}
	defer module.Stop()

	var (
		relay       *nats.Relay
		archiver    *archive.Archiver
		deadLetters *dlq.Module
		compactor   *compaction.Module
	)
	if cfg.NATS.Enabled {
		natsClient, err := nats.NewClient(ctx, cfg.NATS, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := natsClient.Drain(); err != nil {
				logger.Error("NATS drain error", "error", err)
			}
		}()

		streamMgr := nats.NewStreamManager(natsClient.JetStream(), cfg.NATS.Stream, logger)
		stream, err := streamMgr.EnsureStream(ctx)
		if err != nil {
			return err
		}
		consumers := []nats.ConsumerConfig{cfg.NATS.Relay.ConsumerConfig()}
		if cfg.Archive.Enabled {
			consumers = append(consumers, cfg.Archive.ConsumerConfig(cfg.NATS.Relay))
		}
		if err := streamMgr.EnsureConsumers(ctx, stream, consumers); err != nil {
			return err
		}

		relay = nats.NewRelay(natsClient.JetStream(), module, cfg.NATS.Relay, cfg.NATS.Stream.Name, obs.Metrics(), logger)
		serverOpts = append(serverOpts, gateway.WithReadinessCheck("nats", natsClient.HealthCheck))

		if cfg.DLQ.Enabled {
			deadLetters = dlq.New(natsClient.JetStream(), natsClient.Conn(), cfg.NATS.Stream.Name,
				[]string{cfg.NATS.Relay.Consumer}, cfg.DLQ, obs.Metrics(), logger)
		}

		if cfg.Archive.Enabled {
			s3Client, err := archive.NewS3Client(ctx, cfg.Archive.S3, logger)
			if err != nil {
				return err
			}
			if err := s3Client.EnsureBucket(ctx); err != nil {
				return err
			}

			archiver = archive.NewArchiver(natsClient.JetStream(), s3Client, cfg.Archive,
				cfg.NATS.Stream.Name, cfg.NATS.Relay, obs.Metrics(), logger)
			serverOpts = append(serverOpts, gateway.WithReadinessCheck("archive_s3", s3Client.HealthCheck))
			compactor = compaction.New(s3Client, cfg.Archive, cfg.Compaction, obs.Metrics(), logger)
		}
	}

	serverOpts = append(serverOpts, gateway.WithMetrics(obs.Metrics(), obs.MetricsHandler()))
	server, err := gateway.NewServer(cfg.Gateway, module, logger, serverOpts...)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.Start)

	if deadLetters != nil {
		if err := deadLetters.Start(gctx); err != nil {
			return err
		}
	}
	if relay != nil {
		if err := relay.Start(gctx); err != nil {
			return err
		}
	}
	if archiver != nil {
		if err := archiver.Start(gctx); err != nil {
			return err
		}
	}
	if compactor != nil {
		compactor.Start(gctx)
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Gateway.ShutdownTimeout+5*time.Second)
		defer cancel()

		if relay != nil {
			if err := relay.Stop(shutdownCtx); err != nil {
				logger.Error("relay stop error", "error", err)
			}
		}
		if archiver != nil {
			if err := archiver.Stop(shutdownCtx); err != nil {
				logger.Error("archiver stop error", "error", err)
			}
		}
		if compactor != nil {
			compactor.Stop()
		}
		if deadLetters != nil {
			deadLetters.Stop()
		}
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// setupLogger creates a logger based on configuration.
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
