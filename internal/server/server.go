// Package server exposes the read-only status API: engine counters, cache
// freshness, endpoint health and a breaker reset hook for operators.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hexlane/dexarb/internal/server/handler"
	"github.com/hexlane/dexarb/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port int
	Mode string
}

// Server is the status HTTP server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New registers all routes and wires the logging middleware.
func New(cfg Config, status *handler.StatusHandler, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	health := handler.NewHealthHandler(cfg.Mode, logger)
	mux.HandleFunc("GET /api/health", health.HealthCheck)

	mux.HandleFunc("GET /api/cache/status", status.CacheStatus)
	mux.HandleFunc("GET /api/stats", status.EngineStats)
	mux.HandleFunc("GET /api/endpoints", status.Endpoints)
	mux.HandleFunc("POST /api/breaker/reset", status.ResetBreaker)

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// Start blocks serving requests until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
