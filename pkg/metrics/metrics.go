package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Mission / pipeline metrics
	MissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reqon_missions_total",
			Help: "Total number of missions executed by outcome",
		},
		[]string{"mission", "outcome"},
	)

	MissionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reqon_mission_duration_seconds",
			Help:    "Mission end-to-end duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		},
		[]string{"mission"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reqon_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mission", "stage"},
	)

	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reqon_actions_total",
			Help: "Total number of actions executed by outcome",
		},
		[]string{"mission", "action", "outcome"},
	)

	StepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reqon_steps_total",
			Help: "Total number of steps executed by kind and outcome",
		},
		[]string{"action", "kind", "outcome"},
	)

	// HTTP client metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reqon_http_requests_total",
			Help: "Total number of outbound HTTP requests by source and status",
		},
		[]string{"source", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reqon_http_request_duration_seconds",
			Help:    "Outbound HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	HTTPRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reqon_http_retries_total",
			Help: "Total number of HTTP request retries by source",
		},
		[]string{"source"},
	)

	// Resilience metrics
	RateLimitWaitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reqon_rate_limit_waits_total",
			Help: "Total number of times a request paused for rate limiting",
		},
		[]string{"source", "endpoint"},
	)

	CircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reqon_circuit_state",
			Help: "Circuit breaker state per source/endpoint (0=closed, 1=half_open, 2=open)",
		},
		[]string{"source", "endpoint"},
	)

	CircuitRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reqon_circuit_rejections_total",
			Help: "Total number of requests rejected by an open circuit",
		},
		[]string{"source", "endpoint"},
	)

	// Pagination metrics
	PaginationPagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reqon_pagination_pages_total",
			Help: "Total number of pages fetched by a paginated fetch step",
		},
		[]string{"source", "step"},
	)

	// Store metrics
	StoreOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reqon_store_operations_total",
			Help: "Total number of store operations by store, op and outcome",
		},
		[]string{"store", "op", "outcome"},
	)

	StoreOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reqon_store_operation_duration_seconds",
			Help:    "Store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"store", "op"},
	)

	StoreRecordsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reqon_store_records_total",
			Help: "Current number of records held by a store",
		},
		[]string{"store"},
	)

	// Webhook / wait metrics
	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reqon_webhook_events_total",
			Help: "Total number of webhook events received by path",
		},
		[]string{"path"},
	)

	WaitTimeoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reqon_wait_timeouts_total",
			Help: "Total number of wait steps that timed out",
		},
		[]string{"action"},
	)
)

func init() {
	prometheus.MustRegister(
		MissionsTotal,
		MissionDuration,
		StageDuration,
		ActionsTotal,
		StepsTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
		HTTPRetriesTotal,
		RateLimitWaitsTotal,
		CircuitState,
		CircuitRejectionsTotal,
		PaginationPagesTotal,
		StoreOperationsTotal,
		StoreOperationDuration,
		StoreRecordsTotal,
		WebhookEventsTotal,
		WaitTimeoutsTotal,
	)
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
