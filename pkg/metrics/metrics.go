// Package metrics exposes the Prometheus registry of the lookup tool.
// All metrics are defined in their respective packages (client, cache,
// availability, service) to maintain modularity and avoid circular
// dependencies.
//
// This package provides the scrape handler and a reference for all
// available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the lookup tool.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the registry the scrape handler reads.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the /metrics scrape handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Upstream Metrics (pkg/client):
//   - exemptions_upstream_requests_total{host, status} (Counter): Requests by host and final status
//   - exemptions_upstream_request_duration_seconds{host} (Histogram): Duration including retries
//   - exemptions_upstream_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Rate Limit Metrics (pkg/client):
//   - exemptions_upstream_rate_limited_total (Counter): Requests that saw at least one 429
//   - exemptions_upstream_retries_total (Counter): Retry attempts after 429
//   - exemptions_upstream_retry_backoff_seconds (Histogram): Wait before each retry
//   - exemptions_upstream_retry_exhausted_total (Counter): Requests still 429 after the retry budget
//
// Diagnostics Metrics (pkg/diagnostics):
//   - exemptions_diagnostic_events_dropped_total (Counter): Events dropped for slow observers
//
// Cache Metrics (pkg/cache):
//   - exemptions_cache_hits_total{layer} (Counter): Cache hits by layer (memory, redis)
//   - exemptions_cache_misses_total{layer} (Counter): Cache misses by layer
//   - exemptions_cache_entries{layer} (Gauge): Entries held by the memory layer
//   - exemptions_cache_errors_total{operation} (Counter): Cache operation errors
//
// Lookup Metrics (pkg/availability, pkg/service):
//   - exemptions_probe_years_total{outcome} (Counter): Probed years (data, empty, failed)
//   - exemptions_probe_duration_seconds (Histogram): Duration of a full year probe
//   - exemptions_lookups_total{outcome} (Counter): Parcel lookups (ok, invalid, superseded, error)
//   - exemptions_exports_total{outcome} (Counter): CSV exports (ok, no_data, invalid, error)
//
// Example Prometheus Queries:
//
//   # Share of upstream requests that hit the rate limit
//   rate(exemptions_upstream_rate_limited_total[5m]) /
//   sum(rate(exemptions_upstream_requests_total[5m]))
//
//   # Exhausted retries
//   increase(exemptions_upstream_retry_exhausted_total[1h]) > 0
//
//   # P95 Upstream Latency
//   histogram_quantile(0.95, rate(exemptions_upstream_request_duration_seconds_bucket[5m]))
//
//   # Probed years that failed
//   rate(exemptions_probe_years_total{outcome="failed"}[5m])
