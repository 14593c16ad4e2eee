// Package metrics backs the gateway's GET /metrics endpoint: request
// counters and a latency histogram per surface, grounded on
// kadirpekel-hector's pkg/observability/metrics.go pattern of a private
// prometheus.Registry plus WithLabelValues recorder methods, scaled down
// to the handful of series the gateway actually emits.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus series. A nil *Metrics is valid
// everywhere it's used as a receiver — every method is a no-op on a nil
// receiver, so callers that build the gateway without metrics enabled
// don't need to special-case it.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	upstreamErrors  *prometheus.CounterVec
}

// New creates a Metrics instance with its own registry, so multiple
// gateway instances in one process (as in tests) never collide on
// prometheus's default global registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "emxllm",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Total number of gateway HTTP requests.",
		},
		[]string{"surface", "status"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "emxllm",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Gateway HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms..~82s
		},
		[]string{"surface"},
	)

	m.upstreamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "emxllm",
			Subsystem: "gateway",
			Name:      "upstream_errors_total",
			Help:      "Total number of upstream errors surfaced as 502.",
		},
		[]string{"surface"},
	)

	m.registry.MustRegister(m.requestsTotal, m.requestDuration, m.upstreamErrors)
	return m
}

// surfaceFromPath derives the "surface" label from the request path
// prefix, without depending on the gateway package (avoiding an import
// cycle: gateway imports metrics, not the reverse).
func surfaceFromPath(path string) string {
	switch {
	case len(path) >= 7 && path[:7] == "/openai":
		return "openai"
	case len(path) >= 10 && path[:10] == "/anthropic":
		return "anthropic"
	default:
		return "other"
	}
}

// Middleware records a request count, status, and duration for every
// request, keyed by surface.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusCapture{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		surface := surfaceFromPath(r.URL.Path)
		m.requestsTotal.WithLabelValues(surface, strconv.Itoa(sw.status)).Inc()
		m.requestDuration.WithLabelValues(surface).Observe(time.Since(start).Seconds())
		if sw.status == http.StatusBadGateway {
			m.upstreamErrors.WithLabelValues(surface).Inc()
		}
	})
}

type statusCapture struct {
	http.ResponseWriter
	status int
}

func (sw *statusCapture) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusCapture) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Handler returns the HTTP handler for GET /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
