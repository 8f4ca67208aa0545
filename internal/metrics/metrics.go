// Package metrics provides Prometheus collectors for the filevault server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filevault_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filevault_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	storeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filevault_store_operations_total",
			Help: "Total number of object store operations",
		},
		[]string{"backend", "operation", "status"},
	)

	storeOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filevault_store_operation_duration_seconds",
			Help:    "Object store operation duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"backend", "operation"},
	)

	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filevault_uploads_total",
			Help: "Total number of upload attempts by result",
		},
		[]string{"result"},
	)

	uploadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filevault_upload_bytes_total",
			Help: "Total bytes accepted by successful uploads",
		},
	)

	deletesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filevault_deletes_total",
			Help: "Total number of delete attempts by result",
		},
		[]string{"result"},
	)

	compensationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filevault_saga_compensations_total",
			Help: "Total number of saga compensation steps executed",
		},
		[]string{"saga", "step"},
	)

	compensationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filevault_saga_compensation_failures_total",
			Help: "Total number of saga compensation steps that failed",
		},
		[]string{"saga", "step"},
	)

	reconcileRepairsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filevault_reconcile_repairs_total",
			Help: "Total number of inconsistencies repaired by the reconciler",
		},
		[]string{"kind"},
	)

	reconcileRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "filevault_reconcile_run_duration_seconds",
			Help:    "Reconciler pass duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
	)

	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filevault_auth_attempts_total",
			Help: "Total number of login attempts",
		},
		[]string{"result"},
	)

	rateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filevault_rate_limited_requests_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordStoreOperation records an object store call started at start.
func RecordStoreOperation(backend, operation string, start time.Time, err error) {
	storeOperationDuration.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
	storeOperationsTotal.WithLabelValues(backend, operation, status(err == nil)).Inc()
}

// RecordUpload records the outcome of an upload saga.
func RecordUpload(result string, size int64) {
	uploadsTotal.WithLabelValues(result).Inc()
	if result == "success" {
		uploadBytes.Add(float64(size))
	}
}

// RecordDelete records the outcome of a delete saga.
func RecordDelete(result string) {
	deletesTotal.WithLabelValues(result).Inc()
}

// RecordCompensation records a compensation step and whether it succeeded.
func RecordCompensation(saga, step string, err error) {
	compensationsTotal.WithLabelValues(saga, step).Inc()
	if err != nil {
		compensationFailuresTotal.WithLabelValues(saga, step).Inc()
	}
}

// RecordReconcileRepairs adds n repairs of the given kind.
func RecordReconcileRepairs(kind string, n int) {
	if n > 0 {
		reconcileRepairsTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// RecordReconcileRun records the duration of a reconciler pass.
func RecordReconcileRun(duration time.Duration) {
	reconcileRunDuration.Observe(duration.Seconds())
}

// RecordAuthAttempt records a login attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordRateLimited records a request rejected by the rate limiter.
func RecordRateLimited() {
	rateLimitedTotal.Inc()
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request metrics labelled by the matched chi route
// pattern so that file ids do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		RecordHTTPRequest(r.Method, route, rw.statusCode, time.Since(start))
	})
}
