package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the audit recorder. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Recorded       *prometheus.CounterVec
	RecordFailures prometheus.Counter
	QueueFull      prometheus.Counter
	Anchored       prometheus.Counter
	AnchorFailures prometheus.Counter
	AnchorDropped  prometheus.Counter
	Tampered       prometheus.Counter
}

// New creates and registers the audit metrics.
func New() *Metrics {
	return &Metrics{
		Recorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bizportal_audit_recorded_total",
			Help: "Audit entries persisted, by event type",
		}, []string{"event_type"}),
		RecordFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bizportal_audit_record_failures_total",
			Help: "Audit entries that failed to persist",
		}),
		QueueFull: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bizportal_audit_queue_full_total",
			Help: "Audit writes done inline because the async queue was full",
		}),
		Anchored: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bizportal_audit_anchored_total",
			Help: "Audit entries with an external anchor attached",
		}),
		AnchorFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bizportal_audit_anchor_failures_total",
			Help: "Anchor attempts that failed",
		}),
		AnchorDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bizportal_audit_anchor_dropped_total",
			Help: "Entries not queued for anchoring because the queue was full",
		}),
		Tampered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bizportal_audit_tampered_total",
			Help: "Entries whose recomputed fingerprint did not match",
		}),
	}
}

func (m *Metrics) IncRecorded(eventType string) {
	if m != nil {
		m.Recorded.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) IncRecordFailures() {
	if m != nil {
		m.RecordFailures.Inc()
	}
}

func (m *Metrics) IncRecordQueueFull() {
	if m != nil {
		m.QueueFull.Inc()
	}
}

func (m *Metrics) IncAnchored() {
	if m != nil {
		m.Anchored.Inc()
	}
}

func (m *Metrics) IncAnchorFailures() {
	if m != nil {
		m.AnchorFailures.Inc()
	}
}

func (m *Metrics) IncAnchorDropped() {
	if m != nil {
		m.AnchorDropped.Inc()
	}
}

func (m *Metrics) IncTampered() {
	if m != nil {
		m.Tampered.Inc()
	}
}
