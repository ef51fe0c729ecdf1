package service

import (
	"context"
	"log/slog"
	"time"

	auditmetrics "bizportal/internal/audit/metrics"
	"bizportal/internal/audit/models"
	"bizportal/pkg/requestcontext"
)

// Recorder is the synchronous write path behind an AsyncRecorder.
type Recorder interface {
	RecordOrReport(ctx context.Context, in models.Input) *models.Entry
}

type pending struct {
	ctx context.Context
	in  models.Input
}

// AsyncRecorder takes audit writes off the request path. Inputs are stamped
// with the request time on enqueue and written by Run. A full queue writes
// inline instead of dropping the entry.
type AsyncRecorder struct {
	next    Recorder
	inbox   chan pending
	timeout time.Duration
	logger  *slog.Logger
	metrics *auditmetrics.Metrics
}

type AsyncOption func(*AsyncRecorder)

func WithAsyncLogger(logger *slog.Logger) AsyncOption {
	return func(r *AsyncRecorder) {
		r.logger = logger
	}
}

func WithAsyncMetrics(m *auditmetrics.Metrics) AsyncOption {
	return func(r *AsyncRecorder) {
		r.metrics = m
	}
}

func WithQueueSize(size int) AsyncOption {
	return func(r *AsyncRecorder) {
		if size > 0 {
			r.inbox = make(chan pending, size)
		}
	}
}

func NewAsyncRecorder(next Recorder, opts ...AsyncOption) *AsyncRecorder {
	r := &AsyncRecorder{
		next:    next,
		inbox:   make(chan pending, 1024),
		timeout: 5 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordOrReport queues in and returns nil. The entry is only available
// once Run has written it.
func (r *AsyncRecorder) RecordOrReport(ctx context.Context, in models.Input) *models.Entry {
	if in.Timestamp.IsZero() {
		in.Timestamp = requestcontext.Now(ctx)
	}
	select {
	case r.inbox <- pending{ctx: context.WithoutCancel(ctx), in: in}:
		return nil
	default:
		r.metrics.IncRecordQueueFull()
		r.logger.WarnContext(ctx, "audit queue full, recording inline",
			"event_type", string(in.EventType),
		)
		return r.next.RecordOrReport(ctx, in)
	}
}

// Queued reports how many inputs are waiting to be written.
func (r *AsyncRecorder) Queued() int {
	return len(r.inbox)
}

// Run writes queued inputs until ctx is cancelled, then drains the queue.
// Callers stop producing before cancelling so nothing is left behind.
func (r *AsyncRecorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return ctx.Err()
		case p := <-r.inbox:
			r.write(p)
		}
	}
}

func (r *AsyncRecorder) drain() {
	for {
		select {
		case p := <-r.inbox:
			r.write(p)
		default:
			return
		}
	}
}

func (r *AsyncRecorder) write(p pending) {
	ctx, cancel := context.WithTimeout(p.ctx, r.timeout)
	defer cancel()
	r.next.RecordOrReport(ctx, p.in)
}
