package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	tasksSubmitted   *prometheus.CounterVec
	invocations      *prometheus.CounterVec
	subTaskTerminal  *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
	executionLatency *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		tasksSubmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockpulse_tasks_submitted_total",
				Help: "Total number of analysis tasks accepted",
			},
			[]string{"symbol"},
		),
		invocations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockpulse_invocations_published_total",
				Help: "Total number of sub-task invocations published to the broker",
			},
			[]string{"kind"},
		),
		subTaskTerminal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockpulse_subtasks_terminal_total",
				Help: "Sub-tasks reaching a terminal state",
			},
			[]string{"kind", "state"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockpulse_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		executionLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stockpulse_execution_duration_seconds",
				Help:    "Duration of sub-task executions in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
	}
}

// RecordTaskSubmitted records an accepted analysis task.
func (r *Recorder) RecordTaskSubmitted(symbol string) {
	r.tasksSubmitted.WithLabelValues(symbol).Inc()
}

// RecordInvocationPublished records a broker publish.
func (r *Recorder) RecordInvocationPublished(kind string) {
	r.invocations.WithLabelValues(kind).Inc()
}

// RecordSubTaskTerminal records a sub-task terminal transition.
func (r *Recorder) RecordSubTaskTerminal(kind, state string) {
	r.subTaskTerminal.WithLabelValues(kind, state).Inc()
}

// RecordExecutionLatency records one sub-task execution duration.
func (r *Recorder) RecordExecutionLatency(kind string, seconds float64) {
	r.executionLatency.WithLabelValues(kind).Observe(seconds)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}
