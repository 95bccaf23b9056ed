package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/unicro/uniscout/internal/auth"
	"github.com/unicro/uniscout/internal/config"
)

// Version is reported by health and capabilities.
const Version = "0.1.0"

// Server is the HTTP API server.
type Server struct {
	cfg            config.ServerConfig
	scanner        ScanPort
	telemetryHub   TelemetryPort
	authMiddleware *auth.Middleware
	limiter        *rate.Limiter
	logger         *slog.Logger
	stopTimeout    time.Duration
	startTime      time.Time
	httpServer     *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithAuth protects routes with m. Without it every caller gets auth.LocalClaims.
func WithAuth(m *auth.Middleware) Option {
	return func(s *Server) { s.authMiddleware = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithStopTimeout bounds stop and cancel requests.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Server) { s.stopTimeout = d }
}

// NewServer creates an API server.
func NewServer(cfg config.ServerConfig, scanner ScanPort, telemetryHub TelemetryPort, opts ...Option) *Server {
	s := &Server{
		cfg:          cfg,
		scanner:      scanner,
		telemetryHub: telemetryHub,
		logger:       slog.Default(),
		stopTimeout:  5 * time.Second,
		startTime:    time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.authMiddleware == nil {
		s.authMiddleware = auth.NewMiddleware(nil)
	}

	limit := rate.Inf
	if cfg.ControlRate > 0 {
		limit = rate.Limit(cfg.ControlRate)
	}
	burst := cfg.ControlBurst
	if burst < 1 {
		burst = 1
	}
	s.limiter = rate.NewLimiter(limit, burst)
	return s
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Address, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop.
func (s *Server) Serve(ln net.Listener) error {
	// No write timeout: telemetry streams stay open.
	s.httpServer = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: s.cfg.ReadTimeout,
		IdleTimeout: s.cfg.IdleTimeout,
	}

	s.logger.Info("api server listening", "address", ln.Addr().String())
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}
