package sink

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Drop and failure reasons used as metric labels.
const (
	reasonQueueFull    = "queue_full"
	reasonClosed       = "closed"
	reasonPostFailed   = "post_failed"
	reasonFormat       = "format"
	reasonEmptyPayload = "empty_payload"
	reasonStatus       = "status"
	reasonTransport    = "transport"
	reasonPanic        = "panic"
)

// Metrics holds the Prometheus metrics for the shipping pipeline.
// A nil *Metrics records nothing.
type Metrics struct {
	EventsEnqueued prometheus.Counter
	EventsDropped  *prometheus.CounterVec
	EventsShipped  prometheus.Counter
	BatchesPosted  prometheus.Counter
	PostFailures   *prometheus.CounterVec
	PostDuration   prometheus.Histogram
	QueueLength    prometheus.Gauge
	BackoffSeconds prometheus.Gauge
}

// NewMetrics creates and registers all sink metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lokisink_events_enqueued_total",
			Help: "Total log events accepted into the queue",
		}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lokisink_events_dropped_total",
			Help: "Total log events dropped before reaching Loki",
		}, []string{"reason"}),
		EventsShipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lokisink_events_shipped_total",
			Help: "Total log events accepted by Loki",
		}),
		BatchesPosted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lokisink_batches_posted_total",
			Help: "Total batches accepted by Loki",
		}),
		PostFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lokisink_post_failures_total",
			Help: "Total failed flush attempts by reason",
		}, []string{"reason"}),
		PostDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lokisink_post_duration_seconds",
			Help:    "Duration of push requests to Loki",
			Buckets: prometheus.DefBuckets,
		}),
		QueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lokisink_queue_length",
			Help: "Current number of queued events",
		}),
		BackoffSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lokisink_next_flush_seconds",
			Help: "Interval until the next scheduled flush",
		}),
	}
	reg.MustRegister(
		m.EventsEnqueued,
		m.EventsDropped,
		m.EventsShipped,
		m.BatchesPosted,
		m.PostFailures,
		m.PostDuration,
		m.QueueLength,
		m.BackoffSeconds,
	)
	return m
}

func (m *Metrics) enqueued(queueLen int) {
	if m == nil {
		return
	}
	m.EventsEnqueued.Inc()
	m.QueueLength.Set(float64(queueLen))
}

func (m *Metrics) dropped(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.EventsDropped.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) shipped(n int) {
	if m == nil {
		return
	}
	m.EventsShipped.Add(float64(n))
	m.BatchesPosted.Inc()
}

func (m *Metrics) failed(reason string) {
	if m == nil {
		return
	}
	m.PostFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) observePost(d time.Duration) {
	if m == nil {
		return
	}
	m.PostDuration.Observe(d.Seconds())
}

func (m *Metrics) queueLength(n int) {
	if m == nil {
		return
	}
	m.QueueLength.Set(float64(n))
}

func (m *Metrics) nextFlush(d time.Duration) {
	if m == nil {
		return
	}
	m.BackoffSeconds.Set(d.Seconds())
}
