package recv

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds all Prometheus metrics for the receiver.
type Metrics struct {
	PushesReceived    prometheus.Counter
	LinesReceived     *prometheus.CounterVec
	BytesReceived     prometheus.Counter
	BadRequests       *prometheus.CounterVec
	LinesDropped      prometheus.Counter
	PushDuration      prometheus.Histogram
	ActiveConnections prometheus.Gauge
}

// NewMetrics creates and registers all receiver metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PushesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lokisink_recv_pushes_total",
			Help: "Total push requests accepted",
		}),
		LinesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lokisink_recv_lines_total",
			Help: "Total log lines received by tenant",
		}, []string{"tenant"}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lokisink_recv_bytes_total",
			Help: "Total log line bytes received",
		}),
		BadRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lokisink_recv_bad_requests_total",
			Help: "Total rejected push requests by reason",
		}, []string{"reason"}),
		LinesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lokisink_recv_lines_dropped_total",
			Help: "Total received lines dropped by a full output writer",
		}),
		PushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lokisink_recv_push_duration_seconds",
			Help:    "Duration of push API request handling",
			Buckets: prometheus.DefBuckets,
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lokisink_recv_active_connections",
			Help: "Current in-flight push requests",
		}),
	}
	reg.MustRegister(
		m.PushesReceived,
		m.LinesReceived,
		m.BytesReceived,
		m.BadRequests,
		m.LinesDropped,
		m.PushDuration,
		m.ActiveConnections,
	)
	return m
}
