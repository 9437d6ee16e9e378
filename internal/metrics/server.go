// Package metrics implements dispatchd's Prometheus collectors and the
// HTTP server that exposes them (spec ambient stack: observability).
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	logpkg "github.com/taskrelay/dispatchd/internal/log"
)

// Server serves the Prometheus scrape endpoint on its own listener,
// independent of the control API.
type Server struct {
	addr   string
	path   string
	logger logpkg.Logger
	server *http.Server
}

// NewServer creates a metrics server. An empty path defaults to "/metrics".
func NewServer(addr, path string, logger logpkg.Logger) *Server {
	if path == "" {
		path = "/metrics"
	}
	return &Server{
		addr:   addr,
		path:   path,
		logger: logger,
	}
}

// Start binds the listener and serves in the background. It returns once
// the server is configured; ListenAndServe errors are logged, not returned,
// since they occur asynchronously after Start has already returned nil.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.Handler())

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.WithField("addr", s.addr).WithField("path", s.path).Info("starting metrics server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("metrics server error")
		}
	}()

	return nil
}

// Stop gracefully shuts the server down, bounding the wait to 5 seconds.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	s.logger.Info("stopping metrics server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}

	s.logger.Info("metrics server stopped")
	return nil
}
