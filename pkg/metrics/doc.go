/*
Package metrics provides Prometheus metrics collection and exposition
for the orchestrator.

The metrics package defines and registers every orchestrator metric
using prometheus/client_golang, giving observability into job/agent
population, dispatch throughput, detector activity, and API latency.
Metrics are exposed via an HTTP handler for scraping; pkg/api/server.go
mounts it at /metrics.

# Metrics catalog

Job/agent population:

	orchestrator_jobs_total{status}         gauge
	orchestrator_agents_total{status}       gauge

API:

	orchestrator_api_requests_total{method,route,status}    counter
	orchestrator_api_request_duration_seconds{method,route}  histogram

Dispatcher (C4):

	orchestrator_dispatch_tick_duration_seconds       histogram
	orchestrator_jobs_dispatched_total                counter
	orchestrator_dispatch_failures_total{reason}      counter

Detector (C6):

	orchestrator_detector_cycle_duration_seconds{pass}    histogram
	orchestrator_agents_marked_offline_total              counter
	orchestrator_jobs_escalated_total{reason}             counter

Agent client (C8):

	orchestrator_agent_client_request_duration_seconds{command}  histogram
	orchestrator_agent_client_breaker_open_total{agent_id}        counter

Background scheduler (C9):

	orchestrator_background_skipped_ticks_total{task}    counter
	orchestrator_background_task_failures_total{task}    counter

# Usage

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDuration(metrics.DispatchTickDuration)

Timer follows the corpus's defer-based convention: start a timer at
the top of a function, observe it in a deferred call so every return
path is measured.

health.go implements a separate, registry-independent health system
(HealthChecker, readiness/liveness handlers) consumed by the process's
/healthz, /readyz, and /livez endpoints.
*/
package metrics
