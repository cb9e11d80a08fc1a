package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"socialgraph/internal/model"
)

var (
	// Engine mutations
	MutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "socialgraph_mutations_total",
			Help: "Total number of graph mutations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "socialgraph_notifications_created_total",
			Help: "Total number of notifications created",
		},
		[]string{"type"},
	)

	// Events
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "socialgraph_events_published_total",
			Help: "Total number of domain events published by transport",
		},
		[]string{"transport"}, // "redis", "local"
	)

	EventPublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "socialgraph_event_publish_failures_total",
			Help: "Events that could not be published after the mutation committed",
		},
		[]string{"event_type"},
	)

	EventPublishFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "socialgraph_event_publish_fallbacks_total",
			Help: "Events dispatched in process because the Redis publisher was unavailable",
		},
	)

	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "socialgraph_events_processed_total",
			Help: "Events handled by workers by type and outcome",
		},
		[]string{"event_type", "outcome"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "socialgraph_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Timeline cache
	TimelineCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "socialgraph_timeline_cache_hits_total",
			Help: "Feed pages served from the Redis timeline",
		},
		[]string{"timeline"},
	)

	TimelineCacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "socialgraph_timeline_cache_misses_total",
			Help: "Feed pages served from the store",
		},
		[]string{"timeline"},
	)

	// Reconciliation
	ReconcileRepairs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "socialgraph_reconcile_repairs_total",
			Help: "Denormalized values repaired by the reconciler",
		},
		[]string{"kind"},
	)

	ReconcileRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "socialgraph_reconcile_runs_total",
			Help: "Reconciliation passes by outcome",
		},
		[]string{"outcome"},
	)

	IdempotentReplays = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "socialgraph_idempotent_replays_total",
			Help: "Requests answered from a stored idempotent response",
		},
	)

	// API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "socialgraph_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "socialgraph_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// Outcome classifies err into a low-cardinality label.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	switch model.Kind(err) {
	case model.ErrValidation:
		return "validation"
	case model.ErrNotFound:
		return "not_found"
	case model.ErrForbidden:
		return "forbidden"
	case model.ErrTransientStorage:
		return "transient"
	default:
		return "error"
	}
}

// RecordMutation records the outcome of an engine operation.
func RecordMutation(operation string, err error) {
	MutationsTotal.WithLabelValues(operation, Outcome(err)).Inc()
}

// RecordEventProcessed records a handled stream event.
func RecordEventProcessed(eventType string, err error) {
	EventsProcessed.WithLabelValues(eventType, Outcome(err)).Inc()
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordTimelineRead records whether a feed page came from the cache.
func RecordTimelineRead(timeline string, hit bool) {
	if hit {
		TimelineCacheHits.WithLabelValues(timeline).Inc()
		return
	}
	TimelineCacheMisses.WithLabelValues(timeline).Inc()
}
