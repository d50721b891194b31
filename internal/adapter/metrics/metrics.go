// Package metrics defines the Prometheus instrumentation for the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session store metrics
var (
	// SessionLoadsTotal tracks LoadUser outcomes: "ok", "error"
	SessionLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_loads_total",
			Help: "Total session user loads by outcome",
		},
		[]string{"status"},
	)

	// SessionLoadsCoalesced counts LoadUser callers that attached to an
	// already in-flight fetch instead of issuing their own.
	SessionLoadsCoalesced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "session_loads_coalesced_total",
			Help: "Total session loads coalesced into an in-flight fetch",
		},
	)

	// FavoriteMutationsTotal tracks favorite tool mutations by operation ("add"/"remove") and status
	FavoriteMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "favorite_mutations_total",
			Help: "Total favorite tool mutations by operation and status",
		},
		[]string{"operation", "status"},
	)
)

// Upstream Galaxy API metrics
var (
	// UpstreamRequestDuration tracks Galaxy API call latency by operation
	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "galaxy_api_request_duration_seconds",
			Help:    "Galaxy user API request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	// UpstreamErrorsTotal tracks Galaxy API failures by operation
	UpstreamErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "galaxy_api_errors_total",
			Help: "Total Galaxy user API errors by operation",
		},
		[]string{"operation"},
	)

	// CircuitBreakerState tracks the upstream breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "galaxy_api_circuit_breaker_state",
			Help: "Galaxy API circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)
)

// Event bus metrics
var (
	// EventDeliveriesTotal tracks listener deliveries by listener name and status
	EventDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_deliveries_total",
			Help: "Total user-change event deliveries by listener and status",
		},
		[]string{"listener", "status"},
	)

	// EventFanoutPublishErrors counts failed cross-instance event publishes
	EventFanoutPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "event_fanout_publish_errors_total",
			Help: "Total failed Redis publishes of user-change events",
		},
	)
)

// HTTP metrics
var (
	// HTTPErrorsTotal tracks HTTP errors by structured error type
	HTTPErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total HTTP errors by error type",
		},
		[]string{"type"},
	)
)
