package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	auditmetrics "bizportal/internal/audit/metrics"
	"bizportal/internal/audit/models"
	"bizportal/internal/platform/errreport"
	dErrors "bizportal/pkg/domain-errors"
	"bizportal/pkg/platform/sentinel"
	"bizportal/pkg/requestcontext"
)

// Store is the append-only audit persistence port.
type Store interface {
	Append(ctx context.Context, entry *models.Entry) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Entry, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Entry, error)
	ListRecent(ctx context.Context, limit int) ([]*models.Entry, error)
	AttachAnchor(ctx context.Context, id uuid.UUID, ref string, at time.Time) error
}

// AnchorQueue accepts persisted entries for asynchronous external anchoring.
// Enqueue must not block; false means the entry was not queued.
type AnchorQueue interface {
	Enqueue(entry *models.Entry) bool
}

// Service records and verifies fingerprinted audit entries.
type Service struct {
	store    Store
	anchors  AnchorQueue
	reporter errreport.Reporter
	logger   *slog.Logger
	metrics  *auditmetrics.Metrics
	tracer   trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *auditmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithAnchorQueue enables external anchoring. Without it entries are only
// stored locally.
func WithAnchorQueue(q AnchorQueue) Option {
	return func(s *Service) {
		s.anchors = q
	}
}

func WithReporter(r errreport.Reporter) Option {
	return func(s *Service) {
		s.reporter = r
	}
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("audit store is required")
	}
	s := &Service{
		store:  store,
		logger: slog.Default(),
		tracer: otel.Tracer("bizportal/audit"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.reporter == nil {
		s.reporter = errreport.NewLogReporter(s.logger, nil)
	}
	return s, nil
}

// Record fingerprints and persists one entry.
func (s *Service) Record(ctx context.Context, in models.Input) (*models.Entry, error) {
	ctx, span := s.tracer.Start(ctx, "audit.Record", trace.WithAttributes(
		attribute.String("event_type", string(in.EventType)),
	))
	defer span.End()

	if err := validate(in); err != nil {
		return nil, err
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = requestcontext.Now(ctx)
	}
	in.Timestamp = models.CanonicalTime(in.Timestamp)

	hash, err := models.Fingerprint(in)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "metadata is not serializable")
	}

	entry := &models.Entry{
		ID:           uuid.New(),
		UserID:       in.UserID,
		EventType:    in.EventType,
		FieldChanged: in.FieldChanged,
		OldValue:     in.OldValue,
		NewValue:     in.NewValue,
		Role:         in.Role,
		Metadata:     in.Metadata,
		Hash:         hash,
		Timestamp:    in.Timestamp,
	}
	if entry.Metadata == nil {
		entry.Metadata = map[string]any{}
	}

	if err := s.store.Append(ctx, entry); err != nil {
		s.metrics.IncRecordFailures()
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist audit entry")
	}
	s.metrics.IncRecorded(string(entry.EventType))
	span.SetAttributes(attribute.String("audit_entry_id", entry.ID.String()))

	if s.anchors != nil && !s.anchors.Enqueue(entry) {
		s.logger.WarnContext(ctx, "audit anchor queue full, entry stays unanchored",
			"audit_entry_id", entry.ID.String(),
		)
	}
	return entry, nil
}

// RecordOrReport records in and sends any failure to the reporter instead of
// returning it. Workflows call this after their own state change committed.
func (s *Service) RecordOrReport(ctx context.Context, in models.Input) *models.Entry {
	entry, err := s.Record(ctx, in)
	if err != nil {
		s.reporter.Report(ctx, "audit.record", err,
			"event_type", string(in.EventType),
			"user_id", in.UserID,
		)
		return nil
	}
	return entry
}

func validate(in models.Input) error {
	if in.UserID == "" {
		return dErrors.New(dErrors.CodeValidation, "audit user id is required")
	}
	if in.EventType == "" {
		return dErrors.New(dErrors.CodeValidation, "audit event type is required")
	}
	if models.IsSecretField(in.FieldChanged) {
		for _, v := range []string{in.OldValue, in.NewValue} {
			if v != "" && v != models.RedactedMarker {
				return dErrors.New(dErrors.CodeValidation, "secret values must be redacted")
			}
		}
	}
	return nil
}

// Get returns one entry.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Entry, error) {
	entry, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "audit entry not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load audit entry")
	}
	return entry, nil
}

func (s *Service) ListByUser(ctx context.Context, userID string) ([]*models.Entry, error) {
	entries, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit entries")
	}
	return entries, nil
}

func (s *Service) ListRecent(ctx context.Context, limit int) ([]*models.Entry, error) {
	entries, err := s.store.ListRecent(ctx, clampLimit(limit))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit entries")
	}
	return entries, nil
}

// Verify recomputes the fingerprint of a stored entry.
func (s *Service) Verify(ctx context.Context, id uuid.UUID) (*models.Verification, error) {
	entry, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	v, err := verifyEntry(entry)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to recompute fingerprint")
	}
	if !v.Valid {
		s.metrics.IncTampered()
		s.logger.WarnContext(ctx, "audit entry fingerprint mismatch",
			"audit_entry_id", id.String(),
		)
	}
	return v, nil
}

// VerifyRecent verifies the most recent limit entries and summarizes them.
func (s *Service) VerifyRecent(ctx context.Context, limit int) (*models.VerificationStats, error) {
	entries, err := s.store.ListRecent(ctx, clampLimit(limit))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit entries")
	}

	stats := &models.VerificationStats{}
	for _, entry := range entries {
		v, err := verifyEntry(entry)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to recompute fingerprint")
		}
		stats.Total++
		if v.Valid {
			stats.Valid++
		} else {
			stats.Tampered++
			stats.TamperedID = append(stats.TamperedID, entry.ID)
			s.metrics.IncTampered()
		}
		if v.Anchored {
			stats.Anchored++
		} else {
			stats.Unanchored++
		}
	}
	return stats, nil
}

func verifyEntry(entry *models.Entry) (*models.Verification, error) {
	computed, err := models.Fingerprint(entry.Input())
	if err != nil {
		return nil, err
	}
	return &models.Verification{
		EntryID:      entry.ID,
		StoredHash:   entry.Hash,
		ComputedHash: computed,
		Valid:        computed == entry.Hash,
		Anchored:     entry.IsAnchored(),
		AnchorRef:    entry.AnchorRef,
	}, nil
}

// AttachAnchor sets the external anchor reference. Attaching the same ref
// twice is a no-op; a different ref is a conflict.
func (s *Service) AttachAnchor(ctx context.Context, id uuid.UUID, ref string) error {
	if ref == "" {
		return dErrors.New(dErrors.CodeValidation, "anchor reference is required")
	}
	err := s.store.AttachAnchor(ctx, id, ref, requestcontext.Now(ctx))
	switch {
	case err == nil:
		s.metrics.IncAnchored()
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "audit entry not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "audit entry already anchored").WithReason("already_anchored")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to attach anchor")
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
