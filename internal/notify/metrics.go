package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the dispatcher. A nil *Metrics records nothing.
type Metrics struct {
	Enqueued  *prometheus.CounterVec
	Delivered *prometheus.CounterVec
	Failures  *prometheus.CounterVec
	Retries   prometheus.Counter
	Dropped   prometheus.Counter
	Pending   prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		Enqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bizportal_notify_enqueued_total",
			Help: "Notifications accepted by the dispatcher, by kind",
		}, []string{"kind"}),
		Delivered: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bizportal_notify_delivered_total",
			Help: "Notifications delivered, by kind",
		}, []string{"kind"}),
		Failures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bizportal_notify_failures_total",
			Help: "Notifications abandoned after the last attempt, by kind",
		}, []string{"kind"}),
		Retries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bizportal_notify_retries_total",
			Help: "Delivery attempts after the first",
		}),
		Dropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bizportal_notify_dropped_total",
			Help: "Notifications evicted from a full queue",
		}),
		Pending: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bizportal_notify_pending",
			Help: "Notifications waiting for a worker",
		}),
	}
}

func (m *Metrics) IncEnqueued(kind Kind) {
	if m == nil {
		return
	}
	m.Enqueued.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) IncDelivered(kind Kind) {
	if m == nil {
		return
	}
	m.Delivered.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) IncFailures(kind Kind) {
	if m == nil {
		return
	}
	m.Failures.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.Retries.Inc()
}

func (m *Metrics) IncDropped() {
	if m == nil {
		return
	}
	m.Dropped.Inc()
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.Pending.Set(float64(n))
}
