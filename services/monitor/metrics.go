// Package monitor watches the running API: health checks, Prometheus metrics,
// a rolling window of request stats, the status report and threshold alerts.
package monitor

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "mentora"

// Metrics holds the Prometheus collectors of the process, on their own registry.
type Metrics struct {
	// RequestsTotal counts HTTP requests.
	// Labels: method, route (echo path template), status
	RequestsTotal *prometheus.CounterVec

	// RequestDuration measures HTTP request latency.
	// Labels: method, route
	RequestDuration *prometheus.HistogramVec

	RequestsInFlight prometheus.Gauge

	// RoomsActive tracks the signaling rooms with at least one peer.
	RoomsActive prometheus.Gauge

	// BackupsTotal counts database backups.
	// Labels: result (success, failure)
	BackupsTotal *prometheus.CounterVec

	// AlertsFiredTotal counts alerts sent.
	// Labels: kind
	AlertsFiredTotal *prometheus.CounterVec

	// Stats is the rolling window behind /status & alerting.
	Stats *Stats

	registry *prometheus.Registry
}

func NewMetrics(window time.Duration) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),
		RequestsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests being served",
		}),
		RoomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "signaling",
			Name:      "rooms_active",
			Help:      "Number of signaling rooms with at least one peer",
		}),
		BackupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "backups_total",
				Help:      "Total number of database backups by result",
			},
			[]string{"result"},
		),
		AlertsFiredTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "alerts_fired_total",
				Help:      "Total number of alerts sent by kind",
			},
			[]string{"kind"},
		),
		Stats:    NewStats(window),
		registry: reg,
	}
}

// ObserveRequest records a served HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
	m.Stats.Record(status, elapsed)
}

// ObserveBackup counts a backup run.
func (m *Metrics) ObserveBackup(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.BackupsTotal.WithLabelValues(result).Inc()
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
