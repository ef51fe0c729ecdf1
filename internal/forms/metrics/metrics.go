package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for form resolution and the definition lifecycle. A nil *Metrics
// records nothing.
type Metrics struct {
	Resolutions *prometheus.CounterVec
	Lifecycle   *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		Resolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bizportal_forms_resolutions_total",
			Help: "Form resolve requests, by form type and outcome",
		}, []string{"form_type", "outcome"}),
		Lifecycle: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bizportal_forms_lifecycle_events_total",
			Help: "Form group and definition lifecycle changes, by action",
		}, []string{"action"}),
	}
}

func (m *Metrics) IncResolution(formType, outcome string) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(formType, outcome).Inc()
}

func (m *Metrics) IncLifecycle(action string) {
	if m == nil {
		return
	}
	m.Lifecycle.WithLabelValues(action).Inc()
}
