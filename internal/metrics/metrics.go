// Package metrics exposes Prometheus instrumentation for the entity
// framework and its HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Mutations counts committed entity mutations by store and event kind.
	Mutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scoutd_mutations_total",
			Help: "Committed entity store mutations",
		},
		[]string{"struct", "event"},
	)

	// StreamedRows counts rows pushed through streaming reads by store.
	StreamedRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scoutd_streamed_rows_total",
			Help: "Rows delivered through streaming reads",
		},
		[]string{"struct"},
	)

	// LiveConnections tracks currently attached live channel consumers.
	LiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scoutd_live_connections",
			Help: "Currently attached live channel consumers",
		},
	)

	// LiveReplayed counts events replayed from connection caches after
	// reconnects.
	LiveReplayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scoutd_live_replayed_total",
			Help: "Events replayed to reconnecting live consumers",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scoutd_http_requests_total",
			Help: "HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scoutd_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Middleware records request counts and latencies per endpoint.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer, which the
// streaming handlers need for flushing.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
