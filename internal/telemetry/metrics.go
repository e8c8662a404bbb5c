// Package telemetry provides application-level observability for the tenant service.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served by the side-channel HTTP server started by cmd/server:
//
//	GET http://<host>:<TNT_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Tenant lifecycle workflow outcomes and compensation attempts
//   - Collection migration latency
//   - Consistency check findings (set by the periodic checker in internal/jobs)
//   - Recovered background goroutine panics
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() rather than the raw request URL. Workflow
// metrics never carry organization names or identifiers as labels.
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tenant-service/tenant-service/internal/safego"
)

// HTTPRequestsTotal is a CounterVec with labels {method, path, status}.
// The path label holds the Gin route template.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
var HTTPRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests.",
	},
	[]string{"method", "path", "status"},
)

// HTTPRequestDuration is a HistogramVec with labels {method, path}.
//
// Example PromQL queries:
//   - p99 latency: histogram_quantile(0.99, sum by (le, path) (rate(http_request_duration_seconds_bucket[5m])))
var HTTPRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"method", "path"},
)

// Workflow names used as the workflow label.
const (
	WorkflowCreate = "create"
	WorkflowUpdate = "update"
	WorkflowDelete = "delete"
	WorkflowLogin  = "login"
)

// Workflow outcomes used as the outcome label.
const (
	OutcomeSuccess      = "success"
	OutcomeRejected     = "rejected"
	OutcomeFailed       = "failed"
	OutcomeCompensated  = "compensated"
	OutcomePartial      = "partial"
	OutcomeInconsistent = "inconsistent"
)

// WorkflowsTotal counts finished tenant lifecycle workflows.
//
// Outcomes:
//   - success
//   - rejected: validation, auth or conflict before any side effect
//   - failed: an infrastructure step failed before any side effect
//   - compensated: a later step failed and earlier ones were undone
//   - partial: delete dropped the collection but left metadata behind
//   - inconsistent: a compensation failed, operator action required
//
// Example PromQL queries:
//   - Alert on inconsistency: increase(tenant_workflows_total{outcome="inconsistent"}[15m]) > 0
var WorkflowsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tenant_workflows_total",
		Help: "Total number of tenant lifecycle workflows by outcome.",
	},
	[]string{"workflow", "outcome"},
)

// CompensationsTotal counts compensating actions, labelled by result (ok or failed).
var CompensationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tenant_compensations_total",
		Help: "Total number of compensating actions attempted after a failed workflow step.",
	},
	[]string{"workflow", "result"},
)

// CollectionMigrationDuration observes how long collection renames take,
// including ones that roll back.
var CollectionMigrationDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "tenant_collection_migration_duration_seconds",
		Help:    "Duration of collection rename migrations in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
	},
)

// RateLimitRejectionsTotal counts requests refused by the rate limiter, by scope.
var RateLimitRejectionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rate_limit_rejections_total",
		Help: "Total number of requests rejected by the rate limiter.",
	},
	[]string{"scope"},
)

// ConsistencyFindings holds the result of the last consistency check, by kind
// (dangling or orphan). Any non-zero value needs an operator.
//
// Example PromQL queries:
//   - Alert: max(tenant_consistency_findings) > 0
var ConsistencyFindings = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "tenant_consistency_findings",
		Help: "Registry entries and collections that disagree, as of the last consistency check.",
	},
	[]string{"kind"},
)

// BackgroundPanicsTotal reports panics recovered by safego. The goroutine
// name is in the error log, not in a label.
var BackgroundPanicsTotal = promauto.NewCounterFunc(
	prometheus.CounterOpts{
		Name: "background_goroutine_panics_total",
		Help: "Total number of panics recovered in background goroutines.",
	},
	func() float64 { return float64(safego.Panics()) },
)

// DBOpenConnections is a Gauge tracking the number of open connections in the
// database pool. Updated every 30 seconds by StartDBStatsCollector.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// ObserveWorkflow records the outcome of one workflow run
func ObserveWorkflow(workflow, outcome string) {
	WorkflowsTotal.WithLabelValues(workflow, outcome).Inc()
}

// ObserveCompensation records one compensating action
func ObserveCompensation(workflow string, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	CompensationsTotal.WithLabelValues(workflow, result).Inc()
}

// StartDBStatsCollector samples sql.DB pool statistics every interval until
// ctx is cancelled or the database becomes unreachable.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	safego.Go("db-stats-collector", func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := db.PingContext(ctx); err != nil {
					slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
					return
				}
				DBOpenConnections.Set(float64(db.Stats().OpenConnections))
			}
		}
	})
}
