// Package observability provides the HTTP server for health checks and
// Prometheus metrics endpoints.
//
// # Endpoints
//
//   - GET /healthz: Health check endpoint. Returns 200 if the agent process
//     is running.
//
//   - GET /readyz: Readiness check endpoint. Returns 200 once the MCP
//     transport is serving.
//
//   - GET /metrics: Prometheus metrics in text exposition format. Includes
//     both Go runtime metrics and the agent metrics below.
//
// # Custom Metrics
//
//	┌──────────────────────────────────────┬─────────┬─────────────────────────────────────┐
//	│ Metric Name                          │ Type    │ Description                         │
//	├──────────────────────────────────────┼─────────┼─────────────────────────────────────┤
//	│ snmcp_tool_calls_total               │ Counter │ Tool invocations by outcome         │
//	│ snmcp_tool_call_duration_seconds     │ Hist    │ Tool invocation latency             │
//	│ snmcp_sn_api_requests_total          │ Counter │ Total ServiceNow API requests       │
//	│ snmcp_sn_api_errors_total            │ Counter │ ServiceNow API errors (by code)     │
//	│ snmcp_sn_api_latency_seconds         │ Hist    │ ServiceNow API response latency     │
//	│ snmcp_audit_published_total          │ Counter │ Audit events acknowledged by Kafka  │
//	│ snmcp_audit_publish_errors_total     │ Counter │ Audit events that failed to publish │
//	└──────────────────────────────────────┴─────────┴─────────────────────────────────────┘
//
// # Usage
//
//	srv := observability.NewServer(":9090", logger)
//	go srv.Start(ctx)
//	// When ready:
//	srv.SetReady(true)
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ----- Prometheus Metrics -----

// Metrics holds all Prometheus metrics used by the agent.
// Using promauto for automatic registration with the default registry.
var Metrics = struct {
	// Tool metrics
	ToolCallsTotal   *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec

	// ServiceNow API metrics
	SNAPIRequestsTotal *prometheus.CounterVec
	SNAPIErrorsTotal   *prometheus.CounterVec
	SNAPILatency       *prometheus.HistogramVec

	// Audit metrics
	AuditPublishedTotal     *prometheus.CounterVec
	AuditPublishErrorsTotal *prometheus.CounterVec
}{
	ToolCallsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snmcp_tool_calls_total",
		Help: "Total number of tool invocations by outcome.",
	}, []string{"tool", "outcome"}),

	ToolCallDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "snmcp_tool_call_duration_seconds",
		Help:    "Duration of tool invocations, including all ServiceNow calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool"}),

	SNAPIRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snmcp_sn_api_requests_total",
		Help: "Total number of ServiceNow API requests.",
	}, []string{"method", "endpoint"}),

	SNAPIErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snmcp_sn_api_errors_total",
		Help: "Total number of ServiceNow API errors by status code.",
	}, []string{"method", "status_code"}),

	SNAPILatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "snmcp_sn_api_latency_seconds",
		Help:    "ServiceNow API response latency in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
	}, []string{"method", "endpoint"}),

	AuditPublishedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snmcp_audit_published_total",
		Help: "Total number of audit events acknowledged by Kafka.",
	}, []string{"topic"}),

	AuditPublishErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snmcp_audit_publish_errors_total",
		Help: "Total number of audit events that could not be encoded or published.",
	}, []string{"topic", "error_type"}),
}

// ----- Health/Readiness Server -----

// Server provides HTTP endpoints for health checks, readiness probes,
// and Prometheus metrics.
type Server struct {
	addr   string
	ready  atomic.Bool
	logger *slog.Logger
	srv    *http.Server
}

// NewServer creates a new observability HTTP server.
func NewServer(addr string, logger *slog.Logger) *Server {
	s := &Server{
		addr:   addr,
		logger: logger.With("component", "observability"),
	}

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the mux serving /healthz, /readyz and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start begins listening for HTTP requests. Blocks until the context is
// cancelled, then gracefully shuts down the server.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("observability server starting", "addr", s.addr)

	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down observability server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()

	if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("observability server: %w", err)
	}
	return nil
}

// SetReady marks the server as ready (or not ready) for readiness probes.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
	s.logger.Info("readiness state changed", "ready", ready)
}

// handleHealth responds with 200 OK while the process is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, `{"status":"healthy"}`)
}

// handleReady responds with 200 if ready, 503 if not yet ready.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"ready"}`)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, `{"status":"not_ready"}`)
	}
}
