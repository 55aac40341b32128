// Package telemetry provides application-level observability for Orbit.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served by the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<ORBIT_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Permission guard decisions and permission cache hit/miss counters
//   - Group role sync runs, duration and per-operation outcomes
//   - External group API requests and rate-limit retries
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// No metric carries a user id or workspace id label. HTTP metrics use c.FullPath()
// (e.g. /api/workspace/:id/roles) rather than the raw request URL.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Permission guard metrics.
//
// PermissionChecksTotal is a CounterVec with label {result}: "allowed", "denied" or "bypassed".
//
// PermissionCacheRequestsTotal is a CounterVec with label {result}: "hit" or "miss".
// A miss is a cache lookup that fell through to the database, including stale entries.
//
// Example PromQL queries:
//   - Cache hit ratio:  sum(rate(permission_cache_requests_total{result="hit"}[5m])) / sum(rate(permission_cache_requests_total[5m]))
//   - Denial rate:      rate(permission_checks_total{result="denied"}[5m])
var (
	PermissionChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permission_checks_total",
			Help: "Total number of workspace permission checks, by result.",
		},
		[]string{"result"},
	)

	PermissionCacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permission_cache_requests_total",
			Help: "Total number of permission cache lookups, by hit or miss.",
		},
		[]string{"result"},
	)
)

// Group role sync metrics.
//
// GroupSyncRunsTotal is a CounterVec with label {status}: "success" or "failed".
// A run is "failed" only when the external rank list could not be fetched.
//
// GroupSyncDuration observes one complete SyncWorkspace pass.
//
// GroupSyncOperationsTotal is a CounterVec with labels {op, outcome} where op is one of
// rank_upsert, role_connect, role_disconnect, user_upsert, rank_fetch, metadata_refresh
// and outcome is "succeeded" or "failed".
//
// Example PromQL queries:
//   - Alert on aborted syncs:  increase(group_sync_runs_total{status="failed"}[1h]) > 0
//   - Role churn:              sum by (op) (rate(group_sync_operations_total{outcome="succeeded"}[1h]))
var (
	GroupSyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "group_sync_runs_total",
			Help: "Total number of group role sync runs, by status.",
		},
		[]string{"status"},
	)

	GroupSyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "group_sync_duration_seconds",
			Help:    "Duration of a single workspace group role sync.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	GroupSyncOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "group_sync_operations_total",
			Help: "Total number of reconciliation operations performed by the group role sync, by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)
)

// External group API metrics.
//
// ExternalAPIRequestsTotal is a CounterVec with labels {endpoint, status}; status is the
// HTTP status code or "error" for transport failures.
//
// ExternalAPIRetriesTotal counts retries triggered by rate-limit responses.
//
// Example PromQL queries:
//   - Throttling pressure:  rate(external_api_retries_total[5m])
var (
	ExternalAPIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "external_api_requests_total",
			Help: "Total number of requests made to the external group service, by endpoint and status.",
		},
		[]string{"endpoint", "status"},
	)

	ExternalAPIRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "external_api_retries_total",
			Help: "Total number of external group service calls retried after a rate-limit response.",
		},
	)
)

// DBOpenConnections tracks the number of open connections held by the sql.DB pool.
// It is sampled every 30 seconds by StartDBStatsCollector.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector samples sql.DB pool statistics every 30 seconds. The goroutine
// exits when the database becomes unreachable, which happens at shutdown after db.Close().
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
