package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Evaluation stages counted by AccessEvaluationsTotal
const (
	StageTable  = "table"
	StageField  = "field"
	StageRecord = "record"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Access decision metrics
	AccessEvaluationsTotal *prometheus.CounterVec
	AccessDecisionsTotal   *prometheus.CounterVec

	// Role registry metrics
	CapabilityChecksTotal *prometheus.CounterVec
	RoleMutationsTotal    *prometheus.CounterVec
	RoleSnapshotVersion   prometheus.Gauge

	// Schema metrics
	SchemaReloadsTotal *prometheus.CounterVec
	SchemaTables       prometheus.Gauge

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeep_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeep_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		AccessEvaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeep_access_evaluations_total",
				Help: "Number of permission evaluations per stage (table, field, record)",
			},
			[]string{"stage"},
		),
		AccessDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeep_access_decisions_total",
				Help: "Table-level access decisions",
			},
			[]string{"table", "action", "result"},
		),

		CapabilityChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeep_capability_checks_total",
				Help: "Capability checks against the role registry",
			},
			[]string{"result"},
		),
		RoleMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeep_role_mutations_total",
				Help: "Role registry mutations",
			},
			[]string{"operation"},
		),
		RoleSnapshotVersion: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatekeep_role_snapshot_version",
				Help: "Current role registry snapshot version",
			},
		),

		SchemaReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeep_schema_reloads_total",
				Help: "Schema reload attempts",
			},
			[]string{"result"},
		),
		SchemaTables: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatekeep_schema_tables",
				Help: "Number of tables in the active schema",
			},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatekeep_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatekeep_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AccessEvaluationsTotal,
		m.AccessDecisionsTotal,
		m.CapabilityChecksTotal,
		m.RoleMutationsTotal,
		m.RoleSnapshotVersion,
		m.SchemaReloadsTotal,
		m.SchemaTables,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// ResultLabel maps a boolean decision to the "result" label value
func ResultLabel(allowed bool) string {
	if allowed {
		return "allow"
	}
	return "deny"
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests. Requests are labelled
// with the matched mux route template to keep label cardinality bounded.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
