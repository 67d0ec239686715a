package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sana",
			Name:      "booking_transitions_total",
			Help:      "Booking status transitions by edge and outcome.",
		},
		[]string{"from", "to", "outcome"},
	)

	payouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sana",
			Name:      "payout_batches_total",
			Help:      "Payout batches by final status.",
		},
		[]string{"status"},
	)

	reminders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sana",
			Name:      "reminders_total",
			Help:      "Reminder dispatch attempts by outcome.",
		},
		[]string{"outcome"},
	)

	taskRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sana",
			Name:      "workflow_task_runs_total",
			Help:      "Workflow task executions by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sana",
			Name:      "workflow_task_duration_seconds",
			Help:      "Workflow task execution duration.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sana",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(transitions, payouts, reminders, taskRuns, taskDuration, httpRequests)
	})
}

// IncTransition increments the transition counter for an edge.
func IncTransition(from, to, outcome string) {
	transitions.WithLabelValues(from, to, outcome).Inc()
}

// IncPayout increments the payout batch counter for a status.
func IncPayout(status string) {
	payouts.WithLabelValues(status).Inc()
}

// IncReminder increments the reminder counter for an outcome.
func IncReminder(outcome string) {
	reminders.WithLabelValues(outcome).Inc()
}

// ObserveTask records one workflow task execution.
func ObserveTask(kind, outcome string, elapsed time.Duration) {
	taskRuns.WithLabelValues(kind, outcome).Inc()
	taskDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
