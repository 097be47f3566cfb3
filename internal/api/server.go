package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adlens-io/adlens/internal/api/middleware"
	"github.com/adlens-io/adlens/internal/attribution"
	"github.com/adlens-io/adlens/internal/dashboard"
	"github.com/adlens-io/adlens/internal/fetch"
	"github.com/adlens-io/adlens/internal/refresh"
	"github.com/adlens-io/adlens/internal/storage"
)

type (
	// SectionQuerier answers one dashboard section query.
	SectionQuerier interface {
		Query(ctx context.Context, storeID, section string, q dashboard.Query) (*fetch.Response, error)
	}

	// RefreshRegistry hands out the refresh scheduler for a store and date window.
	RefreshRegistry interface {
		Get(storeID, window string) (*refresh.Scheduler, error)
	}

	// AttributionResolver maps campaign, ad set and ad names to platform IDs.
	AttributionResolver interface {
		Resolve(ctx context.Context, storeID string, q attribution.Query) (attribution.Result, error)
	}

	// RunHistory lists recorded refresh cycles.
	RunHistory interface {
		Recent(ctx context.Context, storeID string, limit int) ([]storage.RefreshRun, error)
	}

	// HealthChecker reports whether a backing store is reachable.
	HealthChecker interface {
		HealthCheck(ctx context.Context) error
	}

	// Dependencies are the services behind the API. Runs and Health are optional.
	Dependencies struct {
		Sections    SectionQuerier
		Refresh     RefreshRegistry
		Attribution AttributionResolver
		Runs        RunHistory
		Health      HealthChecker
	}

	// Server represents the HTTP API server.
	Server struct {
		httpServer  *http.Server
		logger      *slog.Logger
		config      *ServerConfig
		startTime   time.Time
		deps        Dependencies
		rateLimiter middleware.RateLimiter
	}
)

var (
	_ SectionQuerier      = (*dashboard.Service)(nil)
	_ RefreshRegistry     = (*refresh.Registry)(nil)
	_ AttributionResolver = (*attribution.Resolver)(nil)
	_ RunHistory          = (*storage.PersistentRunStore)(nil)
)

// ErrMissingDependency is returned by Start when a required service is not wired.
var ErrMissingDependency = errors.New("api server dependency missing")

// NewServer creates a new HTTP server with structured logging and the middleware stack.
// A nil rateLimiter disables rate limiting.
func NewServer(cfg *ServerConfig, deps Dependencies, rateLimiter middleware.RateLimiter) *Server {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	mux := http.NewServeMux()

	server := &Server{
		logger:      logger,
		config:      cfg,
		deps:        deps,
		rateLimiter: rateLimiter,
	}

	server.setupRoutes(mux)

	if rateLimiter != nil {
		logger.Info("Rate limiting middleware enabled")
	} else {
		logger.Warn("RateLimiter not configured - rate limiting middleware disabled")
	}

	// Middleware executes top to bottom: correlation ID first so every later
	// layer, including recovery, can tag its output.
	handler := middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
		middleware.WithRateLimit(rateLimiter, logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(cfg.ToCORSConfig()),
	)

	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server and blocks until shutdown.
// It handles graceful shutdown on SIGINT and SIGTERM signals.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	if s.deps.Sections == nil || s.deps.Refresh == nil || s.deps.Attribution == nil {
		return fmt.Errorf("%w: sections, refresh and attribution are required", ErrMissingDependency)
	}

	s.startTime = time.Now()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("Starting adlens API server",
			slog.String("address", s.config.Address()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server failed to start",
				slog.String("address", s.config.Address()),
				slog.String("error", err.Error()),
			)

			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case sig := <-stop:
		s.logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

		return s.shutdown()
	}
}

// shutdown gracefully shuts down the server.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Initiating server shutdown",
		slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
	)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Server shutdown failed",
			slog.String("error", err.Error()),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// stops the in-memory limiter's cleanup goroutine
	if limiter, ok := s.rateLimiter.(io.Closer); ok {
		if err := limiter.Close(); err != nil {
			s.logger.Error("Failed to close rate limiter", slog.String("error", err.Error()))
		}
	}

	s.logger.Info("Server shutdown completed successfully")

	return nil
}
