package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	auditmodels "bizportal/internal/audit/models"
	"bizportal/internal/notify"
	"bizportal/internal/review/models"
	dErrors "bizportal/pkg/domain-errors"
	"bizportal/pkg/platform/sentinel"
	"bizportal/pkg/requestcontext"
)

// ReviewCommand is an officer's decision on an application.
type ReviewCommand struct {
	ApplicationID   string
	ReviewerID      string
	Decision        string
	Comments        string
	RejectionReason string
}

// errNoChange aborts a mutation without writing.
var errNoChange = errors.New("no change")

// StartReview moves a submitted application to under_review. Any other
// status returns the current state unchanged, so concurrent or repeated
// calls are harmless.
func (s *Service) StartReview(ctx context.Context, applicationID, reviewerID string) (*models.View, error) {
	ctx, span := s.tracer.Start(ctx, "review.StartReview", trace.WithAttributes(
		attribute.String("application_id", applicationID),
	))
	defer span.End()

	applicationID = strings.TrimSpace(applicationID)
	reviewerID = strings.TrimSpace(reviewerID)
	if applicationID == "" || reviewerID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "application id and reviewer are required")
	}
	reviewer := s.directory.Resolve(ctx, reviewerID)

	var oldStatus models.Status
	profile, app, err := s.mutate(ctx, applicationID, func(app *models.Application, now time.Time) error {
		if app.Status() != models.StatusSubmitted {
			return errNoChange
		}
		oldStatus = app.Status()
		app.ApplicationStatus = models.StatusUnderReview
		app.ReviewedBy = reviewer.ID
		app.ReviewedAt = &now
		app.UpdatedAt = now
		return nil
	})
	if errors.Is(err, errNoChange) {
		s.metrics.IncStartReview("noop")
		return models.NewView(profile, app), nil
	}
	if err != nil {
		return nil, err
	}
	s.metrics.IncStartReview("started")

	s.logger.InfoContext(ctx, "permit review started",
		"application_id", applicationID,
		"officer_id", reviewer.ID,
		"user_id", profile.UserID,
	)
	s.auditor.RecordOrReport(ctx, auditmodels.Input{
		UserID:       profile.UserID,
		EventType:    auditmodels.EventPermitReviewStarted,
		FieldChanged: "applicationStatus",
		OldValue:     string(oldStatus),
		NewValue:     string(models.StatusUnderReview),
		Role:         reviewer.Role,
		Metadata: map[string]any{
			"applicationId":              app.BusinessID,
			"businessId":                 app.BusinessID,
			"officerId":                  reviewer.ID,
			"officerName":                reviewer.Name(),
			"applicationReferenceNumber": app.ReferenceNumber(),
		},
	})
	s.notifier.Notify(ctx, profile.UserID, notify.KindApplicationReviewStarted, map[string]any{
		"applicationId":   app.BusinessID,
		"businessName":    app.BusinessName,
		"referenceNumber": app.ReferenceNumber(),
	})
	return models.NewView(profile, app), nil
}

// Review records an officer decision. Input is validated before anything is
// read; finalized applications and transitions outside the table are
// refused.
func (s *Service) Review(ctx context.Context, cmd ReviewCommand) (*models.View, error) {
	ctx, span := s.tracer.Start(ctx, "review.Review", trace.WithAttributes(
		attribute.String("application_id", cmd.ApplicationID),
		attribute.String("decision", cmd.Decision),
	))
	defer span.End()
	start := time.Now()
	defer func() { s.metrics.ObserveReviewLatency(time.Since(start)) }()

	decision, comments, reason, err := validateReview(cmd)
	if err != nil {
		return nil, err
	}
	applicationID := strings.TrimSpace(cmd.ApplicationID)
	reviewer := s.directory.Resolve(ctx, strings.TrimSpace(cmd.ReviewerID))

	var oldStatus models.Status
	profile, app, err := s.mutate(ctx, applicationID, func(app *models.Application, now time.Time) error {
		oldStatus = app.Status()
		if oldStatus.IsTerminal() {
			return dErrors.New(dErrors.CodeConflict,
				fmt.Sprintf("application is already %s", oldStatus)).WithReason(models.ReasonAlreadyFinalized)
		}
		target := decision.Target()
		if !models.CanTransition(oldStatus, target) {
			return dErrors.New(dErrors.CodeConflict,
				fmt.Sprintf("cannot move application from %s to %s", oldStatus, target)).WithReason(models.ReasonInvalidTransition)
		}
		app.ApplicationStatus = target
		app.ReviewedBy = reviewer.ID
		app.ReviewedAt = &now
		app.ReviewComments = comments
		if reason != "" {
			app.RejectionReason = reason
		}
		app.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	newStatus := app.ApplicationStatus
	s.metrics.IncDecision(string(decision), string(newStatus))

	s.logger.InfoContext(ctx, "permit review recorded",
		"application_id", applicationID,
		"officer_id", reviewer.ID,
		"decision", string(decision),
		"old_status", string(oldStatus),
		"new_status", string(newStatus),
	)

	var rejectionReason any
	if reason != "" {
		rejectionReason = reason
	}
	s.auditor.RecordOrReport(ctx, auditmodels.Input{
		UserID:       profile.UserID,
		EventType:    auditmodels.EventPermitReview,
		FieldChanged: "applicationStatus",
		OldValue:     string(oldStatus),
		NewValue:     string(newStatus),
		Role:         reviewer.Role,
		Metadata: map[string]any{
			"applicationId":              app.BusinessID,
			"businessId":                 app.BusinessID,
			"officerId":                  reviewer.ID,
			"officerName":                reviewer.Name(),
			"decision":                   string(decision),
			"comments":                   comments,
			"rejectionReason":            rejectionReason,
			"applicationReferenceNumber": app.ReferenceNumber(),
		},
	})

	s.notifier.Notify(ctx, profile.UserID, decisionKind(newStatus), map[string]any{
		"applicationId":   app.BusinessID,
		"businessName":    app.BusinessName,
		"oldStatus":       string(oldStatus),
		"newStatus":       string(newStatus),
		"comments":        comments,
		"rejectionReason": rejectionReason,
	})
	if profile.OwnerEmail != "" {
		s.notifier.Notify(ctx, profile.OwnerEmail, notify.KindDecisionEmail, map[string]any{
			"applicationReferenceNumber": app.ReferenceNumber(),
			"businessName":               app.BusinessName,
			"status":                     string(newStatus),
			"decision":                   string(decision),
			"comments":                   comments,
			"rejectionReason":            rejectionReason,
		})
	}
	return models.NewView(profile, app), nil
}

func validateReview(cmd ReviewCommand) (models.Decision, string, string, error) {
	decision := models.Decision(strings.TrimSpace(cmd.Decision))
	if !decision.IsValid() {
		return "", "", "", dErrors.New(dErrors.CodeValidation,
			"decision must be one of approve, reject, request_changes").WithReason(models.ReasonInvalidDecision)
	}
	comments := strings.TrimSpace(cmd.Comments)
	if comments == "" {
		return "", "", "", dErrors.New(dErrors.CodeValidation, "review comments are required").WithReason(models.ReasonCommentsRequired)
	}
	reason := strings.TrimSpace(cmd.RejectionReason)
	if decision == models.DecisionReject && reason == "" {
		return "", "", "", dErrors.New(dErrors.CodeValidation,
			"rejection reason is required when rejecting an application").WithReason(models.ReasonRejectionReasonRequired)
	}
	if strings.TrimSpace(cmd.ApplicationID) == "" || strings.TrimSpace(cmd.ReviewerID) == "" {
		return "", "", "", dErrors.New(dErrors.CodeValidation, "application id and reviewer are required")
	}
	return decision, comments, reason, nil
}

func decisionKind(status models.Status) notify.Kind {
	switch status {
	case models.StatusApproved:
		return notify.KindApplicationApproved
	case models.StatusRejected:
		return notify.KindApplicationRejected
	}
	return notify.KindApplicationNeedsRevision
}

// mutate loads the profile holding applicationID, applies fn to the
// application and saves with a version check. On conflict the whole cycle
// is repeated against fresh state. When fn returns errNoChange the current
// profile and application are returned alongside it.
func (s *Service) mutate(ctx context.Context, applicationID string, fn func(app *models.Application, now time.Time) error) (*models.Profile, *models.Application, error) {
	for attempt := 0; ; attempt++ {
		profile, err := s.loadProfile(ctx, applicationID)
		if err != nil {
			return nil, nil, err
		}
		app := profile.Find(applicationID)

		now := requestcontext.Now(ctx)
		if err := fn(app, now); err != nil {
			return profile, app, err
		}
		profile.UpdatedAt = now

		err = s.store.Update(ctx, profile)
		if err == nil {
			return profile, app, nil
		}
		if !errors.Is(err, sentinel.ErrConflict) {
			return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save application")
		}
		s.metrics.IncConflicts()
		if attempt >= s.maxRetries {
			return nil, nil, dErrors.Wrap(err, dErrors.CodeConflict,
				"application is being modified concurrently, try again").WithReason(models.ReasonVersionConflict)
		}
	}
}

func (s *Service) loadProfile(ctx context.Context, applicationID string) (*models.Profile, error) {
	profile, err := s.store.FindByBusinessID(ctx, applicationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "application not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load application")
	}
	if profile.Find(applicationID) == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "application not found")
	}
	return profile, nil
}
