// Package metrics provides Prometheus metrics for the docvault server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Commit outcomes.
const (
	OutcomeCommitted = "committed"
	OutcomeConflict  = "conflict"
	OutcomeNotFound  = "not_found"
	OutcomeError     = "error"
)

// Metrics is safe to use through a nil pointer; every recorder is a no-op then.
type Metrics struct {
	// HTTP request metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrency control metrics
	CommitsTotal              *prometheus.CounterVec
	PreconditionFailuresTotal *prometheus.CounterVec
	HistorySnapshotsTotal     *prometheus.CounterVec
	InvariantViolationsTotal  prometheus.Counter

	// Store metrics
	StoreOperationDuration *prometheus.HistogramVec

	// WebSocket metrics
	WebSocketConnections prometheus.Gauge
}

// New creates all metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{}

	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docvault_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docvault_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.CommitsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docvault_commits_total",
			Help: "Conditional commits by document type, operation and outcome",
		},
		[]string{"type", "operation", "outcome"},
	)

	m.PreconditionFailuresTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docvault_precondition_failures_total",
			Help: "Rejected If-Match preconditions by reason",
		},
		[]string{"type", "reason"},
	)

	m.HistorySnapshotsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docvault_history_snapshots_total",
			Help: "History snapshots recorded by document type",
		},
		[]string{"type"},
	)

	m.InvariantViolationsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "docvault_invariant_violations_total",
			Help: "Commits refused because they would corrupt the history ledger",
		},
	)

	m.StoreOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docvault_store_operation_duration_seconds",
			Help:    "Duration of store operations in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"backend", "operation"},
	)

	m.WebSocketConnections = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "docvault_websocket_connections",
			Help: "Open WebSocket connections",
		},
	)

	return m
}

func (m *Metrics) RecordHTTPRequest(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, statusClass(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func (m *Metrics) RecordCommit(docType, operation, outcome string, historized bool) {
	if m == nil {
		return
	}
	m.CommitsTotal.WithLabelValues(docType, operation, outcome).Inc()
	if historized && outcome == OutcomeCommitted {
		m.HistorySnapshotsTotal.WithLabelValues(docType).Inc()
	}
}

func (m *Metrics) RecordPreconditionFailure(docType, reason string) {
	if m == nil {
		return
	}
	m.PreconditionFailuresTotal.WithLabelValues(docType, reason).Inc()
}

func (m *Metrics) RecordInvariantViolation() {
	if m == nil {
		return
	}
	m.InvariantViolationsTotal.Inc()
}

func (m *Metrics) ObserveStoreOperation(backend, operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.StoreOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

func (m *Metrics) WebSocketConnected() {
	if m == nil {
		return
	}
	m.WebSocketConnections.Inc()
}

func (m *Metrics) WebSocketDisconnected() {
	if m == nil {
		return
	}
	m.WebSocketConnections.Dec()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
