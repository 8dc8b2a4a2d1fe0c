package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/osprey-forensics/internal/domain"
)

// Analysis modes used as metric labels.
const (
	ModeSync  = "sync"
	ModeAsync = "async"
)

// Metrics holds the service's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	analyses *prometheus.CounterVec
	alerts   *prometheus.CounterVec
	duration prometheus.Histogram
	rows     prometheus.Counter
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forensics_analyses_total",
			Help: "Analyses accepted, by mode.",
		}, []string{"mode"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forensics_alerts_total",
			Help: "Alerts raised by synchronous analyses, by type.",
		}, []string{"type"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "forensics_analysis_duration_seconds",
			Help:    "Wall time of synchronous analyses.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forensics_rows_analyzed_total",
			Help: "Rows analysed synchronously.",
		}),
	}
	m.registry.MustRegister(
		m.analyses, m.alerts, m.duration, m.rows,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Accepted counts an analysis request.
func (m *Metrics) Accepted(mode string) {
	m.analyses.WithLabelValues(mode).Inc()
}

// Observe records a finished synchronous analysis.
func (m *Metrics) Observe(report *domain.Report, seconds float64) {
	m.duration.Observe(seconds)
	m.rows.Add(float64(report.RowCount))
	for _, a := range report.Alerts {
		m.alerts.WithLabelValues(string(a.Type)).Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
