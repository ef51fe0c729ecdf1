package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	approvalmetrics "bizportal/internal/approval/metrics"
	"bizportal/internal/approval/models"
	auditmodels "bizportal/internal/audit/models"
	"bizportal/internal/notify"
	"bizportal/internal/platform/errreport"
)

// Store persists approval requests. Update is a compare-and-swap on Version:
// it fails with sentinel.ErrConflict when the stored version differs from
// req.Version, and on success increments req.Version.
type Store interface {
	Create(ctx context.Context, req *models.Request) error
	FindByApprovalID(ctx context.Context, approvalID string) (*models.Request, error)
	Update(ctx context.Context, req *models.Request) error
	List(ctx context.Context, filter models.Filter) ([]*models.Request, int, error)
}

// ChangeApplier performs the account change behind an approved request.
// It must tolerate repeated calls for the same approval id.
type ChangeApplier interface {
	Apply(ctx context.Context, req *models.Request) error
}

// Notifier is the fire-and-forget notification port.
type Notifier interface {
	Notify(ctx context.Context, recipient string, kind notify.Kind, payload map[string]any)
}

// AuditRecorder records decision events; failures are reported, not returned.
type AuditRecorder interface {
	RecordOrReport(ctx context.Context, in auditmodels.Input) *auditmodels.Entry
}

// Service runs the two-person approval workflow.
type Service struct {
	store    Store
	applier  ChangeApplier
	auditor  AuditRecorder
	notifier Notifier
	reporter errreport.Reporter

	requiredApprovals int
	rejectThreshold   int
	maxRetries        int

	logger  *slog.Logger
	metrics *approvalmetrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *approvalmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithChangeApplier(a ChangeApplier) Option {
	return func(s *Service) {
		s.applier = a
	}
}

func WithAuditRecorder(a AuditRecorder) Option {
	return func(s *Service) {
		s.auditor = a
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

func WithReporter(r errreport.Reporter) Option {
	return func(s *Service) {
		s.reporter = r
	}
}

// WithRequiredApprovals sets the default quorum for new requests. New
// refuses values below models.MinRequiredApprovals.
func WithRequiredApprovals(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.requiredApprovals = n
		}
	}
}

// WithRejectThreshold sets how many rejections finalize a request.
func WithRejectThreshold(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.rejectThreshold = n
		}
	}
}

// WithMaxRetries bounds retries after optimistic concurrency conflicts.
func WithMaxRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("approval store is required")
	}
	s := &Service{
		store:             store,
		requiredApprovals: 2,
		rejectThreshold:   1,
		maxRetries:        5,
		logger:            slog.Default(),
		tracer:            otel.Tracer("bizportal/approval"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.requiredApprovals < models.MinRequiredApprovals {
		return nil, fmt.Errorf("required approvals must be at least %d, got %d", models.MinRequiredApprovals, s.requiredApprovals)
	}
	if s.applier == nil {
		return nil, errors.New("change applier is required")
	}
	if s.auditor == nil {
		return nil, errors.New("audit recorder is required")
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.reporter == nil {
		s.reporter = errreport.NewLogReporter(s.logger, nil)
	}
	return s, nil
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string, notify.Kind, map[string]any) {}
