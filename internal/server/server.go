// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keycanary.
//
// go-keycanary is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package server exposes health probes and Prometheus metrics for a running
// keycanary process.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeremyhahn/go-keycanary/internal/config"
	"github.com/jeremyhahn/go-keycanary/pkg/health"
	"github.com/jeremyhahn/go-keycanary/pkg/logging"
	"github.com/jeremyhahn/go-keycanary/pkg/metrics"
)

const (
	shutdownTimeout   = 10 * time.Second
	collectorInterval = 15 * time.Second
)

// Keys is the key set view the server needs.
type Keys interface {
	health.KeySource
	InactiveUUIDs() []uuid.UUID
	Reload(ctx context.Context) error
}

// Server serves /health and /metrics.
type Server struct {
	cfg     config.ServerConfig
	keys    Keys
	checker *health.Checker
	logger  *logging.Logger
	router  *chi.Mux
}

// New returns a server reporting on keys and store.
func New(cfg config.ServerConfig, keys Keys, store health.CanaryLister, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	checker := health.NewChecker()
	checker.RegisterCheck("keyset", health.KeySetCheck(keys))
	checker.RegisterCheck("canary_store", health.CanaryStoreCheck(store))

	s := &Server{
		cfg:     cfg,
		keys:    keys,
		checker: checker,
		logger:  logger.With("component", "server"),
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.HTTPMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/health/live", s.handleProbe(s.checker.Live))
	r.Get("/health/startup", s.handleProbe(s.checker.Startup))
	r.Get("/health/ready", s.handleReady)

	if s.cfg.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}

type healthResponse struct {
	Status   health.Status        `json:"status"`
	ActiveID string               `json:"active_key_id,omitempty"`
	Keys     int                  `json:"keys"`
	Inactive []uuid.UUID          `json:"inactive_key_ids"`
	Checks   []health.CheckResult `json:"checks"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	results := s.checker.Ready(r.Context())
	resp := healthResponse{
		Status:   health.AggregateStatus(results),
		Keys:     s.keys.Len(),
		Inactive: s.keys.InactiveUUIDs(),
		Checks:   results,
	}
	if id := s.keys.ActiveUUID(); id != uuid.Nil {
		resp.ActiveID = id.String()
	}
	writeJSON(w, resp, statusCode(resp.Status))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	results := s.checker.Ready(r.Context())
	status := health.AggregateStatus(results)
	writeJSON(w, map[string]any{"status": status, "checks": results}, statusCode(status))
}

func (s *Server) handleProbe(probe func(context.Context) health.CheckResult) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result := probe(r.Context())
		writeJSON(w, result, statusCode(result.Status))
	}
}

// statusCode maps a health status to an HTTP status. Degraded is still
// served: the loaded key set keeps working without the canary store.
func statusCode(status health.Status) int {
	if status == health.StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func writeJSON(w http.ResponseWriter, data any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

// Run serves until ctx is cancelled. SIGHUP reloads the key set.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.cfg.Metrics {
		metrics.StartResourceCollector(ctx, collectorInterval)
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go s.reloadOnSignal(ctx, hup)

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	s.checker.MarkStarted()
	s.logger.Info("listening", "address", ln.Addr().String(), "metrics", s.cfg.Metrics)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}
