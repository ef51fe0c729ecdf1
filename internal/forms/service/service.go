package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	auditmodels "bizportal/internal/audit/models"
	formsmetrics "bizportal/internal/forms/metrics"
	"bizportal/internal/forms/models"
)

// Store persists form groups and definitions.
//
// The Execute methods hold a per-record lock (mutex or FOR UPDATE) across
// validate and mutate; mutate is skipped when validate fails. Publish does
// the same for one definition and, in the same transaction, archives any
// other published definition of its group, returning those.
type Store interface {
	CreateGroup(ctx context.Context, group *models.Group, first *models.Definition) error
	FindGroup(ctx context.Context, id uuid.UUID) (*models.Group, error)
	ListGroups(ctx context.Context, filter models.GroupFilter) ([]*models.Group, error)
	ExecuteGroup(ctx context.Context, id uuid.UUID, validate func(*models.Group) error, mutate func(*models.Group)) (*models.Group, error)

	CreateDefinition(ctx context.Context, def *models.Definition) error
	FindDefinition(ctx context.Context, id uuid.UUID) (*models.Definition, error)
	ListDefinitions(ctx context.Context, groupID uuid.UUID) ([]*models.Definition, error)
	ExecuteDefinition(ctx context.Context, id uuid.UUID, validate func(*models.Definition) error, mutate func(*models.Definition)) (*models.Definition, error)
	Publish(ctx context.Context, id uuid.UUID, validate func(*models.Definition) error, mutate func(*models.Definition)) (*models.Definition, []*models.Definition, error)

	// ListPublished returns published definitions of formType whose group
	// is not retired.
	ListPublished(ctx context.Context, formType models.FormType) ([]*models.Definition, error)
}

type AuditRecorder interface {
	RecordOrReport(ctx context.Context, in auditmodels.Input) *auditmodels.Entry
}

// Service resolves form definitions for applicants and runs the admin
// lifecycle of groups and versions.
type Service struct {
	store   Store
	auditor AuditRecorder

	maxRetries int

	logger  *slog.Logger
	metrics *formsmetrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *formsmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithAuditRecorder enables audit entries for publish and group state
// changes. Resolve never audits.
func WithAuditRecorder(a AuditRecorder) Option {
	return func(s *Service) {
		s.auditor = a
	}
}

// WithMaxRetries bounds retries when a new version number collides.
func WithMaxRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("forms store is required")
	}
	s := &Service{
		store:      store,
		maxRetries: 5,
		logger:     slog.Default(),
		tracer:     otel.Tracer("bizportal/forms"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) audit(ctx context.Context, in auditmodels.Input) {
	if s.auditor == nil {
		return
	}
	s.auditor.RecordOrReport(ctx, in)
}
