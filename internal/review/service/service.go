package service

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	auditmodels "bizportal/internal/audit/models"
	"bizportal/internal/notify"
	"bizportal/internal/platform/errreport"
	reviewmetrics "bizportal/internal/review/metrics"
	"bizportal/internal/review/models"
	"bizportal/internal/review/ports"
)

// Store persists business profiles. Update is a compare-and-swap on
// Version: sentinel.ErrConflict on mismatch, req.Version incremented on
// success.
type Store interface {
	FindByBusinessID(ctx context.Context, businessID string) (*models.Profile, error)
	Update(ctx context.Context, profile *models.Profile) error
	List(ctx context.Context, filter models.Filter) ([]*models.View, int, error)
}

type Notifier interface {
	Notify(ctx context.Context, recipient string, kind notify.Kind, payload map[string]any)
}

type AuditRecorder interface {
	RecordOrReport(ctx context.Context, in auditmodels.Input) *auditmodels.Entry
}

// Service runs the permit application review workflow. Callers are expected
// to have checked the officer role already.
type Service struct {
	store     Store
	auditor   AuditRecorder
	notifier  Notifier
	reporter  errreport.Reporter
	reviewers ports.ReviewerPort
	directory *Directory

	maxRetries int

	logger  *slog.Logger
	metrics *reviewmetrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *reviewmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
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

// WithReviewers sets the reviewer identity lookup.
func WithReviewers(p ports.ReviewerPort) Option {
	return func(s *Service) {
		s.reviewers = p
	}
}

func WithMaxRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("profile store is required")
	}
	s := &Service{
		store:      store,
		maxRetries: 5,
		logger:     slog.Default(),
		tracer:     otel.Tracer("bizportal/review"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.auditor == nil {
		return nil, errors.New("audit recorder is required")
	}
	if s.reviewers == nil {
		return nil, errors.New("reviewer lookup is required")
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.reporter == nil {
		s.reporter = errreport.NewLogReporter(s.logger, nil)
	}
	s.directory = NewDirectory(s.reviewers, s.reporter, s.logger, s.metrics)
	return s, nil
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string, notify.Kind, map[string]any) {}
