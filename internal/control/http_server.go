package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taskrelay/dispatchd/internal/dispatch"
	logpkg "github.com/taskrelay/dispatchd/internal/log"
	"github.com/taskrelay/dispatchd/internal/metrics"
)

// Server is the worker/operator-facing HTTP listener: one JSON-RPC-shaped
// POST /rpc endpoint plus GET /healthz and GET /metrics (spec.md §6,
// "External interfaces").
type Server struct {
	addr         string
	readTimeout  time.Duration
	writeTimeout time.Duration
	handler      *Handler
	logger       logpkg.Logger
	server       *http.Server
}

// Options configures Server's HTTP listener.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewServer builds a Server around d.
func NewServer(d *dispatch.Dispatcher, opts Options, logger logpkg.Logger) *Server {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}
	return &Server{
		addr:         opts.Addr,
		readTimeout:  opts.ReadTimeout,
		writeTimeout: opts.WriteTimeout,
		handler:      NewHandler(d),
		logger:       logger,
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.WithField("addr", s.addr).Info("starting control server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("control server error")
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("stopping control server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("control server shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()

	var cmd Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		resp := Response{Error: &ErrorInfo{
			Code:    errCodeParse,
			Message: fmt.Sprintf("invalid request body: %v", err),
		}}
		status := http.StatusBadRequest
		writeResponse(w, status, resp)
		metrics.ControlRequestDuration.WithLabelValues("parse", fmt.Sprint(status)).Observe(time.Since(start).Seconds())
		return
	}

	resp := s.handler.Handle(cmd)
	status := statusForResponse(resp)
	writeResponse(w, status, resp)
	metrics.ControlRequestDuration.WithLabelValues(cmd.Method, fmt.Sprint(status)).Observe(time.Since(start).Seconds())
}

func writeResponse(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// statusForResponse maps a dispatch.Error's Code to an HTTP status (spec
// §7). Malformed-request errors (parse/method/params) use their own
// client-error statuses; a successful response is always 200, including
// triggerReport's structured webhook-failure body (spec §7 "200 with a
// structured body for webhook failure reasons on manual trigger").
func statusForResponse(resp Response) int {
	if resp.Error == nil {
		return http.StatusOK
	}
	switch resp.Error.Code {
	case errCodeParse, errCodeInvalidParams, string(dispatch.CodeInvalidInput):
		return http.StatusBadRequest
	case errCodeMethodUnknown, string(dispatch.CodeNotFound):
		return http.StatusNotFound
	case string(dispatch.CodeRoundCompleted):
		return http.StatusConflict
	case string(dispatch.CodeRoundUnavailable), string(dispatch.CodeNoActiveRound):
		return http.StatusServiceUnavailable
	case string(dispatch.CodePersistence):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
