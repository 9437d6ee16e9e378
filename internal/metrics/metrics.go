// Package metrics implements dispatchd's Prometheus collectors (spec
// ambient stack: observability). Collector names follow the donor's
// "<component>_<unit>_total" style, renamed from capture_agent_* to
// dispatchd_*.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksImportedTotal counts tasks added to a round via Import.
	TasksImportedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchd_tasks_imported_total",
			Help: "Total number of tasks imported into rounds",
		},
		[]string{"round_id"},
	)

	// TasksLeasedTotal counts tasks handed out by Lease.
	TasksLeasedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchd_tasks_leased_total",
			Help: "Total number of tasks leased to worker nodes",
		},
		[]string{"round_id", "node_id"},
	)

	// TasksReportedTotal counts Report calls by outcome.
	TasksReportedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchd_tasks_reported_total",
			Help: "Total number of task completion reports received",
		},
		[]string{"round_id", "outcome"},
	)

	// TasksRetriedTotal counts tasks touched by a timeout sweep: those
	// requeued for their one retry and those failed after it, since the
	// sweep reports a single combined count.
	TasksRetriedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchd_tasks_retried_total",
			Help: "Total number of tasks requeued or failed after a processing timeout",
		},
		[]string{"round_id"},
	)

	// TasksTimedOutTotal counts tasks that exhausted their retry and moved
	// to failed by way of a sweep.
	TasksTimedOutTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchd_tasks_timed_out_total",
			Help: "Total number of tasks marked failed after exhausting retries",
		},
		[]string{"round_id"},
	)

	// RoundsCompletedTotal counts rounds that reached the completed
	// lifecycle state.
	RoundsCompletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatchd_rounds_completed_total",
			Help: "Total number of rounds that reached the completed state",
		},
	)

	// RoundTaskCounts tracks the live task count across every known round
	// by status, refreshed whenever listRounds is queried.
	RoundTaskCounts = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatchd_round_task_counts",
			Help: "Current task counts across all rounds by status",
		},
		[]string{"status"},
	)

	// ActiveRounds reports whether an active round is currently set (0 or 1).
	ActiveRounds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatchd_active_round",
			Help: "1 if an active round is set, 0 otherwise",
		},
	)

	// NodesKnown tracks the number of node records the dispatcher holds
	// telemetry for, as of the most recent listNodes call.
	NodesKnown = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatchd_nodes_known",
			Help: "Number of distinct worker nodes known to the dispatcher",
		},
	)

	// WebhookDeliveriesTotal counts webhook delivery attempts by outcome.
	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchd_webhook_deliveries_total",
			Help: "Total number of webhook delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	// PersistenceErrorsTotal counts persistence read/write/delete failures.
	PersistenceErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchd_persistence_errors_total",
			Help: "Total number of persistence sink errors by operation",
		},
		[]string{"operation"},
	)

	// ControlRequestDuration measures control-API request latency.
	ControlRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatchd_control_request_duration_seconds",
			Help:    "Latency of control API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "code"},
	)
)
