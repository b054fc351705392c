package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Job/agent population gauges
	JobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_jobs_total",
			Help: "Total number of jobs by status",
		},
		[]string{"status"},
	)

	AgentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_agents_total",
			Help: "Total number of agents by status",
		},
		[]string{"status"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_api_requests_total",
			Help: "Total number of API requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Dispatcher metrics
	DispatchTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orchestrator_dispatch_tick_duration_seconds",
			Help:    "Time taken for a single dispatcher tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	JobsDispatchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_jobs_dispatched_total",
			Help: "Total number of jobs successfully dispatched to an agent",
		},
	)

	DispatchFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_dispatch_failures_total",
			Help: "Total number of post-dispatch start-command failures by reason",
		},
		[]string{"reason"},
	)

	// Stuck-work detector metrics
	DetectorCycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_detector_cycle_duration_seconds",
			Help:    "Time taken for a stuck-work detector sub-pass",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pass"},
	)

	AgentsMarkedOfflineTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_agents_marked_offline_total",
			Help: "Total number of agents transitioned to offline by the detector",
		},
	)

	JobsEscalatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_jobs_escalated_total",
			Help: "Total number of jobs force-failed by the detector, by reason",
		},
		[]string{"reason"},
	)

	// Agent client metrics
	AgentClientRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_agent_client_request_duration_seconds",
			Help:    "Outbound agent-client request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	AgentClientBreakerOpenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_agent_client_breaker_open_total",
			Help: "Total number of times an agent's circuit breaker tripped open",
		},
		[]string{"agent_id"},
	)

	// Background scheduler metrics
	SkippedTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_background_skipped_ticks_total",
			Help: "Total number of background task ticks skipped due to overlap",
		},
		[]string{"task"},
	)

	TaskFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_background_task_failures_total",
			Help: "Total number of background task failures",
		},
		[]string{"task"},
	)
)

func init() {
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(AgentsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(DispatchTickDuration)
	prometheus.MustRegister(JobsDispatchedTotal)
	prometheus.MustRegister(DispatchFailuresTotal)
	prometheus.MustRegister(DetectorCycleDuration)
	prometheus.MustRegister(AgentsMarkedOfflineTotal)
	prometheus.MustRegister(JobsEscalatedTotal)
	prometheus.MustRegister(AgentClientRequestDuration)
	prometheus.MustRegister(AgentClientBreakerOpenTotal)
	prometheus.MustRegister(SkippedTicksTotal)
	prometheus.MustRegister(TaskFailuresTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
