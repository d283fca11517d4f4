package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/SebastienMelki/notifyguard/internal/dedup"
	"github.com/SebastienMelki/notifyguard/internal/observability"
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Server is the HTTP gateway.
type Server struct {
	cfg            Config
	httpServer     *http.Server
	handler        http.Handler
	metrics        *observability.Metrics
	metricsHandler http.Handler
	checks         map[string]ReadinessCheck
	auth           Authenticator
	logger         *slog.Logger
}

// Authenticator guards the /v1 routes and mounts its own admin routes.
type Authenticator interface {
	AuthMiddleware() func(http.Handler) http.Handler
	RegisterAdminRoutes(mux *http.ServeMux)
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithMetrics records HTTP request metrics and serves /metrics from h.
func WithMetrics(m *observability.Metrics, h http.Handler) ServerOption {
	return func(s *Server) {
		s.metrics = m
		s.metricsHandler = h
	}
}

// WithReadinessCheck adds a named check to GET /ready.
func WithReadinessCheck(name string, check ReadinessCheck) ServerOption {
	return func(s *Server) {
		s.checks[name] = check
	}
}

// WithAuthenticator requires callers to authenticate. The authenticated
// client ID then keys per-client rate limiting.
func WithAuthenticator(a Authenticator) ServerOption {
	return func(s *Server) {
		s.auth = a
	}
}

// NewServer builds the gateway around dd.
func NewServer(cfg Config, dd dedup.Deduplicator, logger *slog.Logger, opts ...ServerOption) (*Server, error) {
	if dd == nil {
		return nil, errors.New("gateway: deduplicator is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		checks: make(map[string]ReadinessCheck),
		logger: logger.With("component", "gateway"),
	}
	for _, opt := range opts {
		opt(s)
	}

	svc := NewNotificationService(dd, logger)
	h := NewHandler(svc, logger)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}

	authenticate := Middleware(func(next http.Handler) http.Handler { return next })
	if s.auth != nil {
		s.auth.RegisterAdminRoutes(mux)
		authenticate = s.auth.AuthMiddleware()
	}

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 64 << 10
	}

	// HTTPMetrics reads the matched pattern from the request the mux saw,
	// so it has to wrap the mux directly.
	s.handler = Chain(observability.HTTPMetrics(s.metrics)(mux),
		RequestID,
		Recovery(s.logger),
		Logging(s.logger),
		CORS(cfg.CORS),
		RateLimit(cfg.RateLimit),
		authenticate,
		PerKeyRateLimit(cfg.RateLimit),
		BodySizeLimit(maxBody),
		ContentType,
	)

	s.httpServer = &http.Server{
		Addr:           cfg.Addr,
		Handler:        s.handler,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
	}

	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and blocks until the server is
// shut down. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("HTTP server listening", "addr", ln.Addr().String())

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests,
// bounded by the configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	var failed []string
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.logger.Warn("readiness check failed", "check", name, "error", err)
			failed = append(failed, name)
		}
	}

	if len(failed) > 0 {
		slices.Sort(failed)
		writeError(w, r, http.StatusServiceUnavailable,
			fmt.Sprintf("%s: %s", ErrNotReady, strings.Join(failed, ", ")))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
