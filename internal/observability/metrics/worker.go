package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	processTotal    *prometheus.CounterVec
	processDuration *prometheus.HistogramVec
	processInFlight prometheus.Gauge
	eventLag        prometheus.Histogram
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	processTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "ebook_process_total",
			Help:      "Total processed upload events by status.",
		},
		[]string{"service", "status"},
	)
	processDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "ebook_process_duration_seconds",
			Help:      "Upload event processing duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	processInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "ebook_process_in_flight",
			Help:        "Number of in-flight upload events.",
			ConstLabels: prometheus.Labels{"service": service},
		},
	)
	eventLag := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "event_lag_seconds",
			Help:        "Delay between upload and processing start.",
			Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
			ConstLabels: prometheus.Labels{"service": service},
		},
	)

	registry.MustRegister(processTotal, processDuration, processInFlight, eventLag)

	return &WorkerMetrics{
		registry:        registry,
		service:         service,
		processTotal:    processTotal,
		processDuration: processDuration,
		processInFlight: processInFlight,
		eventLag:        eventLag,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) Registerer() prometheus.Registerer {
	return m.registry
}

func (m *WorkerMetrics) StartEbook() {
	m.processInFlight.Inc()
}

func (m *WorkerMetrics) FinishEbook(duration time.Duration, err error) {
	m.processInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}
	m.processTotal.WithLabelValues(m.service, status).Inc()
	m.processDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveEventLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.eventLag.Observe(lag.Seconds())
}
