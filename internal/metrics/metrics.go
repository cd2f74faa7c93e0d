package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Store metrics
var (
	// StoreOpsTotal counts store operations by backend, operation and status.
	StoreOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slashnews_store_operations_total",
			Help: "Total store operations by backend, operation and status",
		},
		[]string{"backend", "operation", "status"},
	)

	// StoreOpDuration tracks store operation latency in seconds.
	StoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "slashnews_store_operation_duration_seconds",
			Help:    "Store operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"backend", "operation"},
	)

	StoreConnectionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slashnews_store_connection_errors_total",
			Help: "Total store connection errors",
		},
	)

	// CircuitBreakerState is 0 closed, 1 half-open, 2 open.
	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slashnews_store_circuit_breaker_state",
			Help: "Current store circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)
)

// Engine metrics
var (
	VotesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slashnews_votes_total",
			Help: "Votes by target, direction and result",
		},
		[]string{"target", "direction", "result"},
	)

	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slashnews_submissions_total",
			Help: "News submissions by result (created, repost, rejected)",
		},
		[]string{"result"},
	)

	CommentOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slashnews_comment_operations_total",
			Help: "Comment insert/update/delete operations",
		},
		[]string{"op"},
	)
)

// Result labels a business outcome for the counters above.
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	return "rejected"
}
