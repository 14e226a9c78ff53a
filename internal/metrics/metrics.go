package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingestion metrics
var (
	// ReportsIngestedTotal tracks device reports by outcome (accepted, dropped, rejected)
	ReportsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reports_ingested_total",
			Help: "Device location reports by outcome",
		},
		[]string{"outcome"},
	)

	// IngestDuration tracks end-to-end ingestion latency in seconds
	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_duration_seconds",
			Help:    "Report ingestion duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// GeofenceAlertsTotal counts boundary-crossed reports
	GeofenceAlertsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geofence_alerts_total",
			Help: "Geofence alert events raised",
		},
	)
)

// Command lifecycle metrics
var (
	// CommandTransitionsTotal tracks command status transitions
	CommandTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "command_transitions_total",
			Help: "Command status transitions by target status",
		},
		[]string{"status"},
	)

	// CommandDispatchesTotal tracks dispatch attempts by result (sent, unreachable, push_error)
	CommandDispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "command_dispatches_total",
			Help: "Command dispatch attempts by result",
		},
		[]string{"result"},
	)

	// SweepDurationSeconds tracks sweep pass duration
	SweepDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "command_sweep_duration_seconds",
			Help:    "Command sweep pass duration in seconds",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5},
		},
	)

	// SweepRetriesTotal counts commands re-dispatched by the sweep
	SweepRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "command_sweep_retries_total",
			Help: "Commands re-dispatched by the sweep",
		},
	)

	// StaleTransitionsTotal counts CAS losers between sweep and acknowledge
	StaleTransitionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "command_stale_transitions_total",
			Help: "Command status writes rejected by compare-and-swap",
		},
	)
)

// Connection registry metrics
var (
	// RegistrySessions tracks currently bound sessions
	RegistrySessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_sessions_current",
			Help: "Currently bound live sessions",
		},
	)

	// RegistryEvictionsTotal counts slow-consumer evictions
	RegistryEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_evictions_total",
			Help: "Sessions evicted for slow consumption",
		},
	)

	// ConnectionsRejectedTotal tracks handshakes rejected by connection limits
	ConnectionsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connections_rejected_total",
			Help: "Handshakes rejected by connection limits, by reason",
		},
		[]string{"reason"},
	)
)

// Notification fan-out metrics
var (
	// EventsPublishedTotal tracks live pushes by event name and result
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Live event pushes by event name and result",
		},
		[]string{"event", "result"},
	)
)

// Redis metrics
var (
	// RedisOpsTotal tracks total Redis operations by operation type and status
	RedisOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total Redis operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	// RedisOpDuration tracks Redis operation latency in seconds
	RedisOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// RedisConnectionErrors tracks Redis connection errors
	RedisConnectionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_connection_errors_total",
			Help: "Total Redis connection errors",
		},
	)

	// CircuitBreakerStateChanges tracks circuit breaker state transitions
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)

	// CircuitBreakerState tracks current circuit breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)
