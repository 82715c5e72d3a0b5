// Package metrics provides Prometheus metrics for the ziton index.
package metrics

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ziton_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ziton_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Catalog metrics. The size is read from the catalog at scrape time so
	// monitor inserts and deletes are reflected without bookkeeping.
	_ = promauto.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "ziton_catalog_entries",
			Help: "Number of entries in the catalog",
		},
		catalogSize,
	)

	rebuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ziton_rebuild_duration_seconds",
			Help:    "Time to walk the included roots and replace the catalog",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	rebuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ziton_rebuilds_total",
			Help: "Total catalog rebuilds",
		},
		[]string{"status"},
	)

	searchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ziton_search_duration_seconds",
			Help:    "Catalog query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Monitor metrics
	monitorEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ziton_monitor_events_total",
			Help: "Total filesystem events applied by the change monitor",
		},
		[]string{"op"},
	)

	monitorRestartsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ziton_monitor_restarts_total",
			Help: "Total change monitor restarts after a failure",
		},
	)

	watchedDirectories = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ziton_watched_directories",
			Help: "Number of directories subscribed for change notifications",
		},
	)

	// Event bus metrics
	eventSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ziton_event_subscribers",
			Help: "Number of active event subscribers",
		},
	)

	eventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ziton_events_dropped_total",
			Help: "Total events dropped for slow subscribers",
		},
		[]string{"kind"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

var (
	catalogCounter  atomic.Pointer[func() (int, error)]
	lastCatalogSize atomic.Int64
)

// ObserveCatalog makes count the source of ziton_catalog_entries.
func ObserveCatalog(count func() (int, error)) {
	catalogCounter.Store(&count)
}

// catalogSize reports the last successful count when the catalog cannot be read.
func catalogSize() float64 {
	if count := catalogCounter.Load(); count != nil {
		if n, err := (*count)(); err == nil {
			lastCatalogSize.Store(int64(n))
		}
	}
	return float64(lastCatalogSize.Load())
}

// RecordRebuild records a finished rebuild.
func RecordRebuild(duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	rebuildsTotal.WithLabelValues(status).Inc()
	if success {
		rebuildDuration.Observe(duration.Seconds())
	}
}

// RecordSearch records a query duration.
func RecordSearch(duration time.Duration) {
	searchDuration.Observe(duration.Seconds())
}

// RecordMonitorEvent records an applied filesystem event.
func RecordMonitorEvent(op string) {
	monitorEventsTotal.WithLabelValues(op).Inc()
}

// RecordMonitorRestart records a monitor restart.
func RecordMonitorRestart() {
	monitorRestartsTotal.Inc()
}

// SetWatchedDirectories sets the number of watched directories.
func SetWatchedDirectories(count int) {
	watchedDirectories.Set(float64(count))
}

// SetSubscribers sets the number of event subscribers.
func SetSubscribers(count int) {
	eventSubscribers.Set(float64(count))
}

// RecordEventDropped records an event a subscriber missed.
func RecordEventDropped(kind string) {
	eventsDroppedTotal.WithLabelValues(kind).Inc()
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

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
// Requests are labelled by chi route pattern so query strings and path
// parameters do not inflate label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, routePattern(r), rw.statusCode, time.Since(start))
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
