package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lobby"

// Collector exposes Prometheus metrics for inbound HTTP requests and the
// link preview pipeline. It satisfies linkpreview.Observer.
type Collector struct {
	registry        *prometheus.Registry
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	fetchDuration   *prometheus.HistogramVec
	sharedFetches   prometheus.Counter
}

// NewCollector constructs a collector on its own registry
func NewCollector() (*Collector, error) {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for inbound HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of inbound HTTP requests.",
		}, []string{"method", "route", "status"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link_preview",
			Name:      "cache_lookups_total",
			Help:      "Preview cache reads by outcome (hit, miss, invalid).",
		}, []string{"outcome"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "link_preview",
			Name:      "fetch_duration_seconds",
			Help:      "Outbound preview fetch latency by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		sharedFetches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link_preview",
			Name:      "shared_fetches_total",
			Help:      "Callers that joined a preview fetch already in flight.",
		}),
	}

	for _, col := range []prometheus.Collector{
		c.requestDuration,
		c.requestTotal,
		c.cacheLookups,
		c.fetchDuration,
		c.sharedFetches,
	} {
		if err := registry.Register(col); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Handler returns an HTTP handler for exposing Prometheus metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler to record HTTP metrics.
// Requests are labelled by chi route pattern to keep cardinality bounded.
func (c *Collector) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.status)
		route := routePattern(r)

		c.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		c.requestDuration.WithLabelValues(r.Method, route, status).Observe(duration)
	})
}

func (c *Collector) ObserveLookup(outcome string) {
	c.cacheLookups.WithLabelValues(outcome).Inc()
}

func (c *Collector) ObserveFetch(outcome string, duration time.Duration) {
	c.fetchDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (c *Collector) ObserveSharedFetch() {
	c.sharedFetches.Inc()
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
