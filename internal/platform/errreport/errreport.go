// Package errreport is the out-of-band channel for failures that must not
// fail the operation that triggered them: audit persistence, change
// application and notification delivery.
package errreport

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reporter receives non-fatal dependency failures.
type Reporter interface {
	Report(ctx context.Context, op string, err error, attrs ...any)
}

// LogReporter logs each failure at Error and counts it by operation.
type LogReporter struct {
	logger  *slog.Logger
	counter *prometheus.CounterVec
}

// NewLogReporter builds a reporter. A nil counter disables metrics.
func NewLogReporter(logger *slog.Logger, counter *prometheus.CounterVec) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{logger: logger, counter: counter}
}

// NewCounter registers the failure counter used by LogReporter.
func NewCounter() *prometheus.CounterVec {
	return promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bizportal_dependency_failures_total",
		Help: "Non-fatal dependency failures reported out of band, by operation",
	}, []string{"op"})
}

func (r *LogReporter) Report(ctx context.Context, op string, err error, attrs ...any) {
	args := append([]any{"op", op, "error", err}, attrs...)
	r.logger.ErrorContext(ctx, "dependency failure", args...)
	if r.counter != nil {
		r.counter.WithLabelValues(op).Inc()
	}
}

// Nop discards reports.
type Nop struct{}

func (Nop) Report(context.Context, string, error, ...any) {}
