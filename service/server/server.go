// Package server exposes the monitor's HTTP API: the aggregate metrics
// snapshot, the transaction history, the contributor leaderboard and the
// diagnostics report.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alien88ted/presale-monitor/service/diag"
	"github.com/alien88ted/presale-monitor/service/metrics"
	"github.com/alien88ted/presale-monitor/service/monitor"
	"github.com/alien88ted/presale-monitor/service/presale"
)

// Aggregator is the slice of the aggregation pipeline the handlers need.
// *monitor.Aggregator implements it; tests substitute a fake.
type Aggregator interface {
	GetMetrics(ctx context.Context, forceRefresh bool) (*monitor.MetricsResult, error)
	ListTransactions(ctx context.Context, limit int, before string) ([]*presale.Transaction, error)
	TopContributors(ctx context.Context, minUSD float64, limit int) ([]presale.Contributor, error)
}

// Diagnoser produces the diagnostics report and health checks.
type Diagnoser interface {
	Report(ctx context.Context) *diag.Report
	HealthCheck(ctx context.Context) *diag.HealthStatus
}

// Server is the HTTP server for the presale monitor.
type Server struct {
	addr    string
	agg     Aggregator
	diag    Diagnoser
	metrics *metrics.Metrics
	logger  *slog.Logger
	server  *http.Server
}

// New creates an HTTP server with the given dependencies.
// The metrics collector is optional; if nil, /metrics is not served and
// request instrumentation is skipped.
func New(addr string, agg Aggregator, d Diagnoser, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:    addr,
		agg:     agg,
		diag:    d,
		metrics: m,
		logger:  logger,
	}
}

// Handler builds the route table. Exposed for httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /api/v1/metrics",
		s.instrument("/api/v1/metrics", handleGetMetrics(s.agg, s.logger)))
	mux.Handle("GET /api/v1/transactions",
		s.instrument("/api/v1/transactions", handleListTransactions(s.agg, s.logger)))
	mux.Handle("GET /api/v1/contributors",
		s.instrument("/api/v1/contributors", handleListContributors(s.agg, s.logger)))
	mux.Handle("GET /api/v1/diagnostics",
		s.instrument("/api/v1/diagnostics", handleDiagnostics(s.diag, s.logger)))

	mux.Handle("GET /health", handleHealth(s.diag))

	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

func (s *Server) instrument(name string, h http.Handler) http.Handler {
	if s.metrics == nil {
		return h
	}
	return metrics.HTTPMiddleware(s.metrics, name)(h)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second, // a forced refresh can take a while
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS
// preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
