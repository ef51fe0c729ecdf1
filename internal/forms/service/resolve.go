package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"bizportal/internal/forms/models"
	dErrors "bizportal/pkg/domain-errors"
	"bizportal/pkg/platform/sentinel"
	pstrings "bizportal/pkg/platform/strings"
	"bizportal/pkg/requestcontext"
)

const defaultUnavailableReason = "This form is temporarily unavailable."

// Score ranks def for q. The bool is false when def's targeting excludes
// the caller. Exact business type adds 2, exact jurisdiction adds 1, and an
// untargeted definition scores 0.
func Score(def *models.Definition, q models.Query) (int, bool) {
	businessType := strings.TrimSpace(q.BusinessType)
	jurisdiction := strings.ToUpper(strings.TrimSpace(q.JurisdictionCode))

	types := pstrings.DedupeAndTrim(def.BusinessTypes)
	codes := pstrings.DedupeAndTrimUpper(def.JurisdictionCodes)

	score := 0
	if len(types) > 0 && businessType != "" {
		if !pstrings.Contains(types, businessType) {
			return -1, false
		}
		score += 2
	}
	if len(codes) > 0 && jurisdiction != "" {
		if !pstrings.Contains(codes, jurisdiction) {
			return -1, false
		}
		score++
	}
	return score, true
}

// Select picks the best published, effective candidate for q, or nil.
// Equal scores go to the most recently published, then the smallest ID.
func Select(candidates []*models.Definition, q models.Query, now time.Time) *models.Definition {
	var (
		best      *models.Definition
		bestScore = -1
	)
	for _, def := range candidates {
		if def.FormType != q.FormType || def.Status != models.StatusPublished || !def.IsEffective(now) {
			continue
		}
		score, ok := Score(def, q)
		if !ok {
			continue
		}
		if best == nil || score > bestScore || (score == bestScore && preferred(def, best)) {
			best, bestScore = def, score
		}
	}
	return best
}

func preferred(a, b *models.Definition) bool {
	at, bt := publishedAt(a), publishedAt(b)
	if !at.Equal(bt) {
		return at.After(bt)
	}
	return a.ID.String() < b.ID.String()
}

func publishedAt(d *models.Definition) time.Time {
	if d.PublishedAt == nil {
		return time.Time{}
	}
	return *d.PublishedAt
}

// Resolve returns the definition an applicant should fill in. A winner
// whose group is deactivated yields an unavailable error carrying
// *models.Unavailable.
func (s *Service) Resolve(ctx context.Context, q models.Query) (*models.Definition, error) {
	ctx, span := s.tracer.Start(ctx, "forms.Resolve", trace.WithAttributes(
		attribute.String("form_type", string(q.FormType)),
		attribute.String("business_type", q.BusinessType),
		attribute.String("jurisdiction_code", q.JurisdictionCode),
	))
	defer span.End()

	if !q.FormType.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown form type")
	}
	candidates, err := s.store.ListPublished(ctx, q.FormType)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load form definitions")
	}
	now := requestcontext.Now(ctx)
	def := Select(candidates, q, now)
	if def == nil {
		s.metrics.IncResolution(string(q.FormType), "not_found")
		return nil, dErrors.New(dErrors.CodeNotFound, "no active form definition for "+string(q.FormType))
	}

	group, err := s.store.FindGroup(ctx, def.GroupID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load form group")
	}
	if group != nil && group.IsDeactivated(now) {
		s.metrics.IncResolution(string(q.FormType), "unavailable")
		reason := group.DeactivateReason
		if reason == "" {
			reason = defaultUnavailableReason
		}
		return nil, dErrors.Wrap(&models.Unavailable{
			ReactivateAt: *group.DeactivatedUntil,
			Reason:       reason,
		}, dErrors.CodeUnavailable, "form is temporarily unavailable").WithReason(models.ReasonTemporarilyUnavailable)
	}
	s.metrics.IncResolution(string(q.FormType), "found")
	return def, nil
}
