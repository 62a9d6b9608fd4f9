// Package api serves the bridge over HTTP: a JSON transform endpoint, the
// run history, Prometheus metrics and the streamable MCP endpoint.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/deixis/clibridge/internal/metrics"
	"github.com/deixis/clibridge/internal/runner"
	"github.com/deixis/clibridge/internal/workflow"
)

const (
	// maxBodyBytes bounds a transform request body.
	maxBodyBytes = 8 << 20

	defaultRunLimit = 20
	maxRunLimit     = 200

	// writeMargin is added to the backend timeout so a transform that runs
	// to its deadline still gets its fallback response written.
	writeMargin = 15 * time.Second
)

// Config holds API server configuration.
type Config struct {
	Listen string
	// DefaultModel is reported by GET /v1/models.
	DefaultModel string
	// RunTimeout is the backend deadline. Zero means runner.DefaultTimeout.
	RunTimeout time.Duration
}

// writeTimeout bounds a response by the longest a transform can take.
func (c Config) writeTimeout() time.Duration {
	timeout := c.RunTimeout
	if timeout <= 0 {
		timeout = runner.DefaultTimeout
	}
	return timeout + writeMargin
}

// Server represents the HTTP API server.
type Server struct {
	config    Config
	engine    *workflow.Engine
	metrics   *metrics.Metrics
	mcp       http.Handler
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server. metrics and mcpHandler may be nil, in which
// case /metrics and /mcp are not mounted.
func New(config Config, engine *workflow.Engine, m *metrics.Metrics, mcpHandler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:    config,
		engine:    engine,
		metrics:   m,
		mcp:       mcpHandler,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: s.config.writeTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/models", s.handleModels)
		r.Post("/transform", s.handleTransform)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{runID}", s.handleGetRun)
	})

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	if s.mcp != nil {
		r.Handle("/mcp", s.mcp)
		r.Handle("/mcp/*", s.mcp)
	}

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
