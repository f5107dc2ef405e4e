package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ExtractionMetrics observes text extraction requests from any entry point.
type ExtractionMetrics struct {
	service string

	total     *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	textBytes *prometheus.HistogramVec
}

func NewExtractionMetrics(service string, reg prometheus.Registerer) *ExtractionMetrics {
	total := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "requests_total",
			Help:      "Extraction requests by source and status.",
		},
		[]string{"service", "source", "status"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "duration_seconds",
			Help:      "Extraction duration in seconds by source.",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"service", "source"},
	)
	textBytes := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "text_bytes",
			Help:      "Size of returned plain text in bytes.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
		},
		[]string{"service", "source"},
	)
	reg.MustRegister(total, duration, textBytes)

	return &ExtractionMetrics{
		service:   service,
		total:     total,
		duration:  duration,
		textBytes: textBytes,
	}
}

func (m *ExtractionMetrics) RecordExtraction(source string, textBytes int, duration time.Duration, err error) {
	if source == "" {
		source = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}

	m.total.WithLabelValues(m.service, source, status).Inc()
	m.duration.WithLabelValues(m.service, source).Observe(duration.Seconds())
	if err == nil {
		m.textBytes.WithLabelValues(m.service, source).Observe(float64(textBytes))
	}
}
