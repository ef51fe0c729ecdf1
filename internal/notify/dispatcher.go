package notify

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"bizportal/internal/platform/errreport"
	"bizportal/pkg/requestcontext"
)

// ErrCircuitOpen is returned for attempts skipped while the transport is
// considered down.
var ErrCircuitOpen = errors.New("notification transport circuit open")

// Dispatcher is the Sink used by the workflows. Accepted notifications sit in
// a ring buffer until a worker delivers them, retrying with exponential
// backoff up to maxAttempts.
type Dispatcher struct {
	transport   Transport
	buffer      *RingBuffer
	breaker     *CircuitBreaker
	reporter    errreport.Reporter
	logger      *slog.Logger
	metrics     *Metrics
	workers     int
	maxAttempts int
	baseBackoff time.Duration

	wake chan struct{}

	mu      sync.Mutex
	running bool
	done    chan struct{}
	cancel  context.CancelFunc
	group   *errgroup.Group
}

type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

func WithReporter(r errreport.Reporter) Option {
	return func(d *Dispatcher) {
		d.reporter = r
	}
}

func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

func WithBufferSize(n int) Option {
	return func(d *Dispatcher) {
		d.buffer = NewRingBuffer(n)
	}
}

// WithRetry sets the attempt budget per notification and the first backoff.
func WithRetry(maxAttempts int, baseBackoff time.Duration) Option {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if baseBackoff > 0 {
			d.baseBackoff = baseBackoff
		}
	}
}

func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(d *Dispatcher) {
		d.breaker = cb
	}
}

func NewDispatcher(transport Transport, opts ...Option) (*Dispatcher, error) {
	if transport == nil {
		return nil, errors.New("notification transport is required")
	}
	d := &Dispatcher{
		transport:   transport,
		buffer:      NewRingBuffer(1024),
		logger:      slog.Default(),
		workers:     4,
		maxAttempts: 3,
		baseBackoff: 200 * time.Millisecond,
		wake:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.breaker == nil {
		d.breaker = NewCircuitBreaker(5, 30*time.Second)
	}
	if d.reporter == nil {
		d.reporter = errreport.NewLogReporter(d.logger, nil)
	}
	return d, nil
}

// Notify queues a notification for delivery and returns immediately.
func (d *Dispatcher) Notify(ctx context.Context, recipient string, kind Kind, payload map[string]any) {
	if recipient == "" {
		d.logger.WarnContext(ctx, "notification without recipient discarded", "kind", string(kind))
		return
	}
	n := Notification{
		ID:        uuid.New(),
		Recipient: recipient,
		Kind:      kind,
		Payload:   maps.Clone(payload),
		CreatedAt: requestcontext.Now(ctx).UTC(),
	}
	if n.Payload == nil {
		n.Payload = map[string]any{}
	}
	if d.buffer.Enqueue(n) {
		d.metrics.IncDropped()
		d.logger.WarnContext(ctx, "notification queue full, dropped oldest", "kind", string(kind))
	}
	d.metrics.IncEnqueued(kind)
	d.metrics.SetPending(d.buffer.Len())

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of notifications not yet picked up.
func (d *Dispatcher) Pending() int {
	return d.buffer.Len()
}

// Start launches the worker pool. Workers run until Stop.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	// delivery outlives the start context; Stop owns cancellation
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(runCtx)
	d.done = make(chan struct{})
	d.cancel = cancel
	d.group = g
	d.running = true

	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			d.work(gctx)
			return nil
		})
	}
	d.logger.InfoContext(ctx, "notification dispatcher started", "workers", d.workers)
}

// Stop lets workers drain the queue. If ctx expires first, in-flight
// deliveries are cancelled and the remaining notifications are abandoned.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	close(d.done)
	cancel, g := d.cancel, d.group
	d.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		cancel()
		return nil
	case <-ctx.Done():
		cancel()
		<-finished
		if left := d.buffer.Len(); left > 0 {
			d.logger.WarnContext(ctx, "notification dispatcher stopped with undelivered notifications", "pending", left)
		}
		return ctx.Err()
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		n, ok := d.buffer.Dequeue()
		if ok {
			d.metrics.SetPending(d.buffer.Len())
			d.deliver(ctx, n)
			continue
		}
		select {
		case <-d.done:
			return
		case <-ctx.Done():
			return
		case <-d.wake:
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification) {
	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if attempt > 1 {
			d.metrics.IncRetries()
			if !sleep(ctx, d.backoff(attempt)) {
				lastErr = ctx.Err()
				break
			}
		}
		lastErr = d.attempt(ctx, n)
		if lastErr == nil {
			d.metrics.IncDelivered(n.Kind)
			return
		}
	}

	d.metrics.IncFailures(n.Kind)
	d.reporter.Report(ctx, "notify.deliver", lastErr,
		"notification_id", n.ID.String(),
		"kind", string(n.Kind),
		"recipient", n.Recipient,
	)
}

func (d *Dispatcher) attempt(ctx context.Context, n Notification) error {
	if !d.breaker.Allow() {
		return ErrCircuitOpen
	}
	if err := d.transport.Deliver(ctx, n); err != nil {
		d.breaker.RecordFailure()
		return err
	}
	d.breaker.RecordSuccess()
	return nil
}

// backoff doubles per attempt: base, 2*base, 4*base ...
func (d *Dispatcher) backoff(attempt int) time.Duration {
	return d.baseBackoff << (attempt - 2)
}

func sleep(ctx context.Context, dur time.Duration) bool {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
