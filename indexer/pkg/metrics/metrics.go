package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "netstate_indexer_build_info",
			Help: "Build information of the netstate indexer",
		},
		[]string{"version", "commit", "date"},
	)

	IngestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netstate_indexer_ingest_total",
			Help: "Total number of dataset ingests",
		},
		[]string{"dataset", "status"},
	)

	IngestRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netstate_indexer_ingest_rows_total",
			Help: "Total number of rows written to datasets",
		},
		[]string{"dataset"},
	)

	IngestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "netstate_indexer_ingest_duration_seconds",
			Help:    "Duration of dataset ingests",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
		[]string{"dataset"},
	)

	SchemaColumnsAddedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netstate_indexer_schema_columns_added_total",
			Help: "Total number of columns added to datasets by schema evolution",
		},
		[]string{"dataset"},
	)

	CollectorRunTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netstate_indexer_collector_run_total",
			Help: "Total number of collector executions",
		},
		[]string{"job", "status"},
	)

	CollectorRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "netstate_indexer_collector_run_duration_seconds",
			Help:    "Duration of collector executions",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~82s
		},
		[]string{"job"},
	)

	FanOutInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netstate_indexer_fanout_in_flight",
			Help: "Number of collector fan-out calls currently running",
		},
	)

	RunTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netstate_indexer_run_total",
			Help: "Total number of collection runs",
		},
		[]string{"status"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "netstate_indexer_run_duration_seconds",
			Help:    "Duration of collection runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~410s
		},
	)

	TransitionsDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netstate_indexer_transitions_detected_total",
			Help: "Total number of state transitions reported by validation rules",
		},
		[]string{"dataset", "column"},
	)

	ValidationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netstate_indexer_validation_errors_total",
			Help: "Total number of validation rules that failed to evaluate",
		},
		[]string{"dataset"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netstate_indexer_http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "netstate_indexer_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Middleware records request counts and durations by route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
