/*
Package metrics provides Prometheus metrics collection, health/readiness
reporting, and HTTP exposition for reqon.

Every mission run instruments itself through this package: mission runs,
stage durations, step outcomes, HTTP requests and retries, rate-limit
waits, and circuit state are recorded here as they happen, with no separate
collection loop. The action, pagination, store and webhook/wait metrics in
the catalog below are registered and exported, but no code in the module
records them, so they stay at zero.
Metrics are exposed via the standard Prometheus text format for scraping;
health and readiness are exposed as small JSON endpoints alongside them.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Metric Categories               │          │
	│  │                                              │          │
	│  │  Mission: runs, duration, stage duration    │          │
	│  │  Step/Action: counts by kind and outcome    │          │
	│  │  HTTP client: requests, duration, retries   │          │
	│  │  Resilience: rate-limit waits, circuit state│          │
	│  │  Pagination: pages fetched per step         │          │
	│  │  Store: operations, duration, record count  │          │
	│  │  Wait/Webhook: events received, timeouts    │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Health / Readiness Registry          │          │
	│  │  - RegisterComponent per store/source setup  │          │
	│  │  - GetHealth / GetReadiness aggregate them    │          │
	│  └──────────────────────────────────────────────┘          │
	│                                                            │
	└────────────────────────────────────────────────────────────┘

# Core Components

Metrics are plain package-level prometheus.{Counter,Histogram,Gauge}Vec
variables in metrics.go, registered once in an init(). Callers increment
or observe them directly at the point of the event; there is no central
collector polling application state on a timer.

HealthChecker (health.go) is a separate, lightweight registry: named
components (e.g. "store:records", "source:api") report healthy/unhealthy
as the executor sets them up. GetHealth reflects all of them; GetReadiness
is the same check under a "ready"/"not_ready" vocabulary for use as a
Kubernetes-style readiness probe.

Timer (metrics.go) is a small helper for the common "observe elapsed time
into a histogram" pattern used by the stage and HTTP request timings.

# Metrics Catalog

Mission / pipeline:

  - reqon_missions_total{mission,outcome} (Counter)
  - reqon_mission_duration_seconds{mission} (Histogram)
  - reqon_stage_duration_seconds{mission,stage} (Histogram)
  - reqon_actions_total{mission,action,outcome} (Counter)
  - reqon_steps_total{action,kind,outcome} (Counter)

HTTP client:

  - reqon_http_requests_total{source,status} (Counter)
  - reqon_http_request_duration_seconds{source} (Histogram)
  - reqon_http_retries_total{source} (Counter)

Resilience (rate limiter / circuit breaker):

  - reqon_rate_limit_waits_total{source,endpoint} (Counter)
  - reqon_circuit_state{source,endpoint} (Gauge, 0=closed 1=half_open 2=open)
  - reqon_circuit_rejections_total{source,endpoint} (Counter)

Pagination:

  - reqon_pagination_pages_total{source,step} (Counter)

Store:

  - reqon_store_operations_total{store,op,outcome} (Counter)
  - reqon_store_operation_duration_seconds{store,op} (Histogram)
  - reqon_store_records_total{store} (Gauge)

Webhook / wait steps:

  - reqon_webhook_events_total{path} (Counter)
  - reqon_wait_timeouts_total{action} (Counter)

# Usage

Recording a counter inline at the call site:

	metrics.HTTPRequestsTotal.WithLabelValues(source, status).Inc()

Timing an operation:

	timer := metrics.NewTimer()
	// ... do the work ...
	timer.ObserveDurationVec(metrics.StoreOperationDuration, storeName, op)

Registering a component's health at setup, and serving the three
Kubernetes-style probe endpoints plus the Prometheus scrape endpoint:

	metrics.RegisterComponent("store:records", true, "file")

	mux := http.NewServeMux()
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	mux.Handle("/metrics", metrics.Handler())

# Troubleshooting

A /ready response of "not_ready" with a registered store/source component
message: the matching piece of mission setup failed and executor.New
returned an error before the run ever started; check the same error
returned to the caller.

Component status changes only through RegisterComponent/UpdateComponent.
The executor registers components during executor.New and nothing in the
module calls UpdateComponent, so within a run /health keeps reporting
what setup registered.

# See Also

See pkg/executor for where components are registered and the mission and
stage metrics are recorded, and pkg/steps, pkg/resilience and
pkg/httpclient for where the other recorded counters/histograms above are
updated.
*/
package metrics
