package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "library"

type HTTPServerMetrics struct {
	registry *prometheus.Registry
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge
	uploadsTotal    *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "route", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "route"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "in_flight_requests",
			Help:        "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{"service": service},
		},
	)
	uploadsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "uploads_total",
			Help:      "Stored uploads by file format.",
		},
		[]string{"service", "format"},
	)

	registry.MustRegister(requestTotal, requestDuration, requestInFlight, uploadsTotal)

	return &HTTPServerMetrics{
		registry:        registry,
		service:         service,
		requestTotal:    requestTotal,
		requestDuration: requestDuration,
		requestInFlight: requestInFlight,
		uploadsTotal:    uploadsTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registerer lets sibling collectors, like extraction metrics, share the
// /metrics endpoint.
func (m *HTTPServerMetrics) Registerer() prometheus.Registerer {
	return m.registry
}

// Middleware records request counts and latency. route maps a request to a
// low-cardinality label such as the matched path template.
func (m *HTTPServerMetrics) Middleware(route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			m.requestInFlight.Inc()
			defer m.requestInFlight.Dec()

			next.ServeHTTP(recorder, r)

			label := "unmatched"
			if route != nil {
				if v := route(r); v != "" {
					label = v
				}
			}
			m.requestTotal.WithLabelValues(m.service, r.Method, label, strconv.Itoa(recorder.statusCode)).Inc()
			m.requestDuration.WithLabelValues(m.service, r.Method, label).Observe(time.Since(start).Seconds())
		})
	}
}

func (m *HTTPServerMetrics) RecordUpload(format string) {
	if format == "" {
		format = "unknown"
	}
	m.uploadsTotal.WithLabelValues(m.service, format).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
