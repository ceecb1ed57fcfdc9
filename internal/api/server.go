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

	"github.com/ratemate/taas/internal/api/middleware"
	"github.com/ratemate/taas/internal/notifier"
	"github.com/ratemate/taas/internal/objectstore"
	"github.com/ratemate/taas/internal/queue"
	"github.com/ratemate/taas/internal/storage"
)

// Server is the admission API: submits test sessions onto the durable
// queue and serves back status, results, and artifacts.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	config     *ServerConfig
	startTime  time.Time

	sessions storage.SessionStore
	results  storage.ResultStore
	apiKeys  storage.APIKeyStore
	jobs     *queue.Queue
	objects  *objectstore.Store
	notify   *notifier.Notifier

	rateLimiter middleware.RateLimiter
}

// NewServer wires the admission API's HTTP surface to its storage, queue,
// object-store, and rate-limiter dependencies.
//
// Dependencies are injected explicitly rather than living on ServerConfig,
// separating configuration (what) from collaborators (how). sessions and
// results are required; apiKeys, jobs, objects, rateLimiter, and notify may
// be nil, each disabling the capability it backs rather than panicking.
func NewServer(
	cfg *ServerConfig,
	sessions storage.SessionStore,
	results storage.ResultStore,
	apiKeys storage.APIKeyStore,
	jobs *queue.Queue,
	objects *objectstore.Store,
	rateLimiter middleware.RateLimiter,
	notify *notifier.Notifier,
) *Server {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	if sessions == nil || results == nil {
		logger.Error("session and result stores are required - cannot start server without core functionality")
		panic("api: SessionStore and ResultStore cannot be nil - this indicates a configuration error")
	}

	mux := http.NewServeMux()

	server := &Server{
		logger:      logger,
		config:      cfg,
		sessions:    sessions,
		results:     results,
		apiKeys:     apiKeys,
		jobs:        jobs,
		objects:     objects,
		rateLimiter: rateLimiter,
		notify:      notify,
	}

	server.setupRoutes(mux)

	if apiKeys != nil { // pragma: allowlist secret
		logger.Info("API key authentication enabled")
	} else {
		logger.Warn("APIKeyStore not configured - API key authentication disabled")
	}

	if rateLimiter != nil {
		logger.Info("rate limiting enabled")
	} else {
		logger.Warn("RateLimiter not configured - rate limiting disabled")
	}

	if cfg.AdminToken == "" {
		logger.Warn("ADMIN_TOKEN not configured - admin endpoints reject every request")
	}

	httpServer := &http.Server{
		Addr:         cfg.Address(),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	server.httpServer = httpServer

	return server
}

// publicChain wraps h with the baseline middleware every response gets:
// correlation id, panic recovery, request logging, and CORS. It carries no
// authentication, so it is reserved for endpoints with nothing to protect
// (health, service descriptor).
func (s *Server) publicChain(h http.Handler) http.Handler {
	return middleware.Apply(h,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(s.logger),
		middleware.WithRequestLogger(s.logger),
		middleware.WithCORS(s.config.ToCORSConfig()),
	)
}

// apiChain wraps h with the public chain plus API-key authentication and
// per-key rate limiting, for every regular admission/read endpoint.
func (s *Server) apiChain(h http.Handler) http.Handler {
	return middleware.Apply(h,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(s.logger),
		middleware.WithAuth(s.apiKeys, s.logger),
		middleware.WithRateLimit(s.rateLimiter, s.logger),
		middleware.WithRequestLogger(s.logger),
		middleware.WithCORS(s.config.ToCORSConfig()),
	)
}

// adminChain wraps h with the public chain plus admin-token authentication.
// It calls middleware.AuthenticateAdmin directly rather than going through
// WithAdminAuth, so an empty admin token rejects every request instead of
// silently leaving the route unauthenticated.
func (s *Server) adminChain(h http.Handler) http.Handler {
	return middleware.Apply(h,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(s.logger),
		middleware.Option(middleware.AuthenticateAdmin(s.config.AdminToken, s.logger)),
		middleware.WithRequestLogger(s.logger),
		middleware.WithCORS(s.config.ToCORSConfig()),
	)
}

// Start starts the HTTP server and blocks until shutdown.
// It handles graceful shutdown on SIGINT and SIGTERM signals.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	s.startTime = time.Now()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("starting admission API server",
			slog.String("address", s.config.Address()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server failed to start",
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
		s.logger.Info("received shutdown signal", slog.String("signal", sig.String()))

		return s.shutdown()
	}
}

// shutdown gracefully shuts down the server.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("initiating server shutdown", slog.Duration("shutdown_timeout", s.config.ShutdownTimeout))

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("server shutdown failed",
			slog.String("error", err.Error()),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.closeDependency("API key store", s.apiKeys)
	s.closeDependency("object store", s.objects)

	s.logger.Info("server shutdown completed successfully")

	return nil
}

// closeDependency attempts to close a server dependency that implements io.Closer.
// Logs the operation and its result. Errors are logged but don't stop shutdown (best-effort).
func (s *Server) closeDependency(name string, dep interface{}) {
	if dep == nil {
		return
	}

	closer, ok := dep.(io.Closer)
	if !ok {
		return
	}

	s.logger.Info("closing " + name)

	if err := closer.Close(); err != nil {
		s.logger.Error("failed to close "+name, slog.String("error", err.Error()))

		return
	}

	s.logger.Info(name + " closed successfully")
}
