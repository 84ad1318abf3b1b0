package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
// The Record* helpers are safe to call on a nil *Metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	PermissionChecksTotal  *prometheus.CounterVec
	PermissionCheckLatency *prometheus.HistogramVec
	GrantsTotal            *prometheus.CounterVec
	RevocationsTotal       *prometheus.CounterVec
	GrantsRevokedTotal     prometheus.Counter
	ExpiredGrantsRemoved   prometheus.Counter
	CleanupRunsTotal       *prometheus.CounterVec
	UnknownConditionsTotal *prometheus.CounterVec

	// Ledger metrics
	LedgerErrorsTotal *prometheus.CounterVec
	CacheHitsTotal    prometheus.Counter
	CacheMissesTotal  prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assessly_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assessly_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assessly_permission_checks_total",
				Help: "Permission checks by outcome and access source",
			},
			[]string{"result", "source"},
		),
		PermissionCheckLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assessly_permission_check_duration_seconds",
				Help:    "Permission check latency in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
			},
			[]string{"result"},
		),
		GrantsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assessly_permission_grants_total",
				Help: "Grant operations by status",
			},
			[]string{"status"},
		),
		RevocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assessly_permission_revocations_total",
				Help: "Revoke operations by status",
			},
			[]string{"status"},
		),
		GrantsRevokedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "assessly_permission_grants_revoked_total",
				Help: "Grant rows removed by revoke operations",
			},
		),
		ExpiredGrantsRemoved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "assessly_expired_grants_removed_total",
				Help: "Expired grant rows removed by cleanup sweeps",
			},
		),
		CleanupRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assessly_grant_cleanup_runs_total",
				Help: "Expiry sweeps by status",
			},
			[]string{"status"},
		),
		UnknownConditionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assessly_unknown_condition_rules_total",
				Help: "Conditions with an unrecognized rule that were let through",
			},
			[]string{"type", "rule"},
		),
		LedgerErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assessly_ledger_errors_total",
				Help: "Grant ledger errors by operation",
			},
			[]string{"operation"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "assessly_ledger_cache_hits_total",
				Help: "Grant ledger cache hits",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "assessly_ledger_cache_misses_total",
				Help: "Grant ledger cache misses",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PermissionChecksTotal,
		m.PermissionCheckLatency,
		m.GrantsTotal,
		m.RevocationsTotal,
		m.GrantsRevokedTotal,
		m.ExpiredGrantsRemoved,
		m.CleanupRunsTotal,
		m.UnknownConditionsTotal,
		m.LedgerErrorsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
	)

	return m
}

func statusLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// RecordCheck records the outcome of a permission check
func (m *Metrics) RecordCheck(allowed bool, source string, duration time.Duration) {
	if m == nil {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.PermissionChecksTotal.WithLabelValues(result, source).Inc()
	m.PermissionCheckLatency.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordGrant records a grant attempt
func (m *Metrics) RecordGrant(ok bool) {
	if m == nil {
		return
	}
	m.GrantsTotal.WithLabelValues(statusLabel(ok)).Inc()
}

// RecordRevoke records a revoke attempt and the number of rows it removed
func (m *Metrics) RecordRevoke(ok bool, removed int) {
	if m == nil {
		return
	}
	m.RevocationsTotal.WithLabelValues(statusLabel(ok)).Inc()
	m.GrantsRevokedTotal.Add(float64(removed))
}

// RecordCleanup records an expiry sweep
func (m *Metrics) RecordCleanup(ok bool, removed int) {
	if m == nil {
		return
	}
	m.CleanupRunsTotal.WithLabelValues(statusLabel(ok)).Inc()
	m.ExpiredGrantsRemoved.Add(float64(removed))
}

// RecordUnknownCondition counts a condition whose rule was not recognized
func (m *Metrics) RecordUnknownCondition(conditionType, rule string) {
	if m == nil {
		return
	}
	m.UnknownConditionsTotal.WithLabelValues(conditionType, rule).Inc()
}

// RecordLedgerError counts a failed ledger operation
func (m *Metrics) RecordLedgerError(operation string) {
	if m == nil {
		return
	}
	m.LedgerErrorsTotal.WithLabelValues(operation).Inc()
}

// RecordCacheHit counts a ledger cache hit
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

// RecordCacheMiss counts a ledger cache miss
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.CacheMissesTotal.Inc()
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

// routeLabel prefers the mux route template so path parameters do not explode label cardinality
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Install it with Router.Use so the matched route is available.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
