package anchor

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	auditmetrics "bizportal/internal/audit/metrics"
	"bizportal/internal/audit/models"
)

// Attacher records an anchor reference on a stored entry.
type Attacher interface {
	AttachAnchor(ctx context.Context, id uuid.UUID, ref string, at time.Time) error
}

// Worker anchors entries in the background. A full inbox drops entries, which
// then stay locally persisted but unanchored.
type Worker struct {
	anchor   Anchor
	attacher Attacher
	inbox    chan *models.Entry
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *auditmetrics.Metrics
}

type WorkerOption func(*Worker)

func WithLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

func WithMetrics(m *auditmetrics.Metrics) WorkerOption {
	return func(w *Worker) {
		w.metrics = m
	}
}

func WithBuffer(size int) WorkerOption {
	return func(w *Worker) {
		if size > 0 {
			w.inbox = make(chan *models.Entry, size)
		}
	}
}

func NewWorker(anchor Anchor, attacher Attacher, opts ...WorkerOption) *Worker {
	w := &Worker{
		anchor:   anchor,
		attacher: attacher,
		inbox:    make(chan *models.Entry, 256),
		timeout:  10 * time.Second,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Enqueue never blocks.
func (w *Worker) Enqueue(entry *models.Entry) bool {
	select {
	case w.inbox <- entry:
		return true
	default:
		w.metrics.IncAnchorDropped()
		return false
	}
}

// Run anchors queued entries until ctx is cancelled, then drains what is
// already queued using a short grace context.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		case entry := <-w.inbox:
			w.process(ctx, entry)
		}
	}
}

func (w *Worker) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	for {
		select {
		case entry := <-w.inbox:
			w.process(ctx, entry)
		default:
			return
		}
	}
}

func (w *Worker) process(ctx context.Context, entry *models.Entry) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	ref, err := w.anchor.Anchor(ctx, entry)
	if err != nil {
		w.metrics.IncAnchorFailures()
		w.logger.WarnContext(ctx, "audit anchor failed, entry stays unanchored",
			"audit_entry_id", entry.ID.String(),
			"error", err,
		)
		return
	}
	if err := w.attacher.AttachAnchor(ctx, entry.ID, ref, time.Now().UTC()); err != nil {
		w.metrics.IncAnchorFailures()
		w.logger.ErrorContext(ctx, "failed to attach audit anchor",
			"audit_entry_id", entry.ID.String(),
			"anchor_ref", ref,
			"error", err,
		)
		return
	}
	w.metrics.IncAnchored()
}
