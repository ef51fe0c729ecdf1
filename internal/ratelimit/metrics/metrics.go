package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeAllowed = "allowed"
	OutcomeLimited = "limited"
	OutcomeError   = "error"
)

type Metrics struct {
	Checks *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		Checks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bizportal_ratelimit_checks_total",
			Help: "Rate limit checks by policy and outcome",
		}, []string{"policy", "outcome"}),
	}
}

func (m *Metrics) IncCheck(policy, outcome string) {
	if m == nil {
		return
	}
	m.Checks.WithLabelValues(policy, outcome).Inc()
}
