package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the approval workflow. A nil *Metrics records nothing.
type Metrics struct {
	Created       *prometheus.CounterVec
	Votes         *prometheus.CounterVec
	Finalized     *prometheus.CounterVec
	Conflicts     prometheus.Counter
	ApplyFailures prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Created: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bizportal_approval_requests_created_total",
			Help: "Approval requests created, by request type",
		}, []string{"request_type"}),
		Votes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bizportal_approval_votes_total",
			Help: "Votes accepted, by decision",
		}, []string{"decision"}),
		Finalized: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bizportal_approval_requests_finalized_total",
			Help: "Approval requests that reached a final status",
		}, []string{"status"}),
		Conflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bizportal_approval_version_conflicts_total",
			Help: "Optimistic concurrency conflicts retried while voting",
		}),
		ApplyFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bizportal_approval_apply_failures_total",
			Help: "Approved changes the applier could not apply",
		}),
	}
}

func (m *Metrics) IncCreated(requestType string) {
	if m == nil {
		return
	}
	m.Created.WithLabelValues(requestType).Inc()
}

func (m *Metrics) IncVote(approved bool) {
	if m == nil {
		return
	}
	decision := "reject"
	if approved {
		decision = "approve"
	}
	m.Votes.WithLabelValues(decision).Inc()
}

func (m *Metrics) IncFinalized(status string) {
	if m == nil {
		return
	}
	m.Finalized.WithLabelValues(status).Inc()
}

func (m *Metrics) IncConflicts() {
	if m == nil {
		return
	}
	m.Conflicts.Inc()
}

func (m *Metrics) IncApplyFailures() {
	if m == nil {
		return
	}
	m.ApplyFailures.Inc()
}
