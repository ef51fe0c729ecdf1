package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	auditmodels "bizportal/internal/audit/models"
	"bizportal/internal/notify"
	"bizportal/internal/review/models"
	dErrors "bizportal/pkg/domain-errors"
)

// Submit files an owner's application for review. A draft is submitted for
// the first time; an application sent back with needs_revision is
// resubmitted. Only the owning profile's user may submit.
func (s *Service) Submit(ctx context.Context, applicationID, ownerID string) (*models.View, error) {
	ctx, span := s.tracer.Start(ctx, "review.Submit", trace.WithAttributes(
		attribute.String("application_id", applicationID),
	))
	defer span.End()

	applicationID = strings.TrimSpace(applicationID)
	ownerID = strings.TrimSpace(ownerID)
	if applicationID == "" || ownerID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "application id and owner are required")
	}
	// ownership never changes, so one read up front is enough
	profile, err := s.loadProfile(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if profile.UserID != ownerID {
		return nil, dErrors.New(dErrors.CodeForbidden, "only the owner can submit this application").WithReason(models.ReasonNotOwner)
	}

	var oldStatus models.Status
	profile, app, err := s.mutate(ctx, applicationID, func(app *models.Application, now time.Time) error {
		oldStatus = app.Status()
		if oldStatus.IsTerminal() {
			return dErrors.New(dErrors.CodeConflict,
				fmt.Sprintf("application is already %s", oldStatus)).WithReason(models.ReasonAlreadyFinalized)
		}
		if !models.CanSubmit(oldStatus) {
			return dErrors.New(dErrors.CodeConflict,
				fmt.Sprintf("cannot submit an application that is %s", oldStatus)).WithReason(models.ReasonInvalidTransition)
		}
		app.ApplicationStatus = models.StatusSubmitted
		app.SubmittedAt = &now
		app.ApplicationReferenceNumber = app.ReferenceNumber()
		app.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncSubmission(string(oldStatus))

	s.logger.InfoContext(ctx, "permit application submitted",
		"application_id", applicationID,
		"user_id", profile.UserID,
		"old_status", string(oldStatus),
	)
	s.auditor.RecordOrReport(ctx, auditmodels.Input{
		UserID:       profile.UserID,
		EventType:    auditmodels.EventPermitSubmitted,
		FieldChanged: "applicationStatus",
		OldValue:     string(oldStatus),
		NewValue:     string(models.StatusSubmitted),
		Role:         models.RoleBusinessOwner,
		Metadata: map[string]any{
			"applicationId":              app.BusinessID,
			"businessId":                 app.BusinessID,
			"resubmission":               oldStatus == models.StatusNeedsRevision,
			"applicationReferenceNumber": app.ReferenceNumber(),
		},
	})
	s.notifier.Notify(ctx, profile.UserID, notify.KindApplicationSubmitted, map[string]any{
		"applicationId":   app.BusinessID,
		"businessName":    app.BusinessName,
		"referenceNumber": app.ReferenceNumber(),
	})
	return models.NewView(profile, app), nil
}
