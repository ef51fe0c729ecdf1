package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the review module.
type Metrics struct {
	// StartReview outcomes: started or noop
	StartReviews *prometheus.CounterVec

	// Owner submissions by the status they left: draft or needs_revision
	Submissions *prometheus.CounterVec

	// Review decisions by decision and resulting status
	Decisions *prometheus.CounterVec

	// Optimistic concurrency conflicts on profile writes
	Conflicts prometheus.Counter

	// Reviewer resolutions by path: primary, fallback, unknown
	ReviewerLookups *prometheus.CounterVec

	ReviewLatency prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		StartReviews: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bizportal_review_start_total",
			Help: "StartReview calls by outcome",
		}, []string{"outcome"}),

		Submissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bizportal_review_submissions_total",
			Help: "Owner submissions by previous status",
		}, []string{"from"}),

		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bizportal_review_decisions_total",
			Help: "Committed review decisions by decision and status",
		}, []string{"decision", "status"}),

		Conflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bizportal_review_conflicts_total",
			Help: "Version conflicts while saving business profiles",
		}),

		ReviewerLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bizportal_review_reviewer_lookups_total",
			Help: "Reviewer identity resolutions by path",
		}, []string{"path"}),

		ReviewLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bizportal_review_duration_seconds",
			Help:    "Duration of Review calls including retries",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
	}
}

func (m *Metrics) IncStartReview(outcome string) {
	if m != nil {
		m.StartReviews.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncSubmission(from string) {
	if m != nil {
		m.Submissions.WithLabelValues(from).Inc()
	}
}

func (m *Metrics) IncDecision(decision, status string) {
	if m != nil {
		m.Decisions.WithLabelValues(decision, status).Inc()
	}
}

func (m *Metrics) IncConflicts() {
	if m != nil {
		m.Conflicts.Inc()
	}
}

func (m *Metrics) IncReviewerLookup(path string) {
	if m != nil {
		m.ReviewerLookups.WithLabelValues(path).Inc()
	}
}

// ObserveReviewLatency records the total duration of a Review call.
func (m *Metrics) ObserveReviewLatency(d time.Duration) {
	if m != nil {
		m.ReviewLatency.Observe(d.Seconds())
	}
}
