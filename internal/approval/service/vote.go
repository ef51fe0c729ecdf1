package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"bizportal/internal/approval/models"
	auditmodels "bizportal/internal/audit/models"
	"bizportal/internal/notify"
	dErrors "bizportal/pkg/domain-errors"
	"bizportal/pkg/platform/sentinel"
	"bizportal/pkg/requestcontext"
)

// VoteCommand is one admin's decision on a pending request.
type VoteCommand struct {
	ApprovalID string
	AdminID    string
	Approved   bool
	Comment    string
}

// CastVote appends a vote and finalizes the request when the vote decides it.
// The load-check-mutate cycle is retried on version conflicts, so a vote is
// never lost and only one caller ever observes the finalizing transition.
func (s *Service) CastVote(ctx context.Context, cmd VoteCommand) (*models.Request, error) {
	ctx, span := s.tracer.Start(ctx, "approval.CastVote", trace.WithAttributes(
		attribute.String("approval_id", cmd.ApprovalID),
		attribute.Bool("approved", cmd.Approved),
	))
	defer span.End()

	cmd.ApprovalID = strings.TrimSpace(cmd.ApprovalID)
	cmd.AdminID = strings.TrimSpace(cmd.AdminID)
	if cmd.ApprovalID == "" || cmd.AdminID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "approval id and voter are required")
	}

	var (
		req       *models.Request
		finalized bool
	)
	for attempt := 0; ; attempt++ {
		var err error
		req, err = s.load(ctx, cmd.ApprovalID)
		if err != nil {
			return nil, err
		}
		if err := checkVote(req, cmd.AdminID); err != nil {
			return nil, err
		}

		now := requestcontext.Now(ctx)
		req.Approvals = append(req.Approvals, models.Vote{
			AdminID:   cmd.AdminID,
			Approved:  cmd.Approved,
			Comment:   strings.TrimSpace(cmd.Comment),
			Timestamp: now,
		})
		req.Status = req.Evaluate(s.rejectThreshold)
		req.UpdatedAt = now

		err = s.store.Update(ctx, req)
		if err == nil {
			finalized = req.Status.IsFinal()
			break
		}
		if !errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save vote")
		}
		s.metrics.IncConflicts()
		if attempt >= s.maxRetries {
			s.logger.ErrorContext(ctx, "approval vote abandoned after repeated conflicts",
				"approval_id", cmd.ApprovalID,
				"attempts", attempt+1,
			)
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "approval request is being modified concurrently, try again").WithReason(models.ReasonVersionConflict)
		}
	}
	s.metrics.IncVote(cmd.Approved)
	s.logger.InfoContext(ctx, "approval vote recorded",
		"approval_id", req.ApprovalID,
		"admin_id", cmd.AdminID,
		"approved", cmd.Approved,
		"status", string(req.Status),
	)

	if finalized {
		req = s.finalize(ctx, req, cmd)
	}
	return req, nil
}

// checkVote applies the vote preconditions in order: finalized, self
// approval, duplicate.
func checkVote(req *models.Request, adminID string) error {
	if req.Status.IsFinal() {
		return dErrors.New(dErrors.CodeConflict, fmt.Sprintf("approval request already %s", req.Status)).WithReason(models.ReasonAlreadyFinalized)
	}
	if adminID == req.UserID {
		return dErrors.New(dErrors.CodeConflict, "admins cannot vote on changes to their own account").WithReason(models.ReasonSelfApproval)
	}
	if req.HasVoted(adminID) {
		return dErrors.New(dErrors.CodeConflict, "admin has already voted on this request").WithReason(models.ReasonDuplicateVote)
	}
	return nil
}

// finalize runs the side effects of a committed final status. None of them
// can change the status; their failures are reported.
func (s *Service) finalize(ctx context.Context, req *models.Request, cmd VoteCommand) *models.Request {
	s.metrics.IncFinalized(string(req.Status))

	var (
		appliedAt  *time.Time
		applyError string
	)
	if req.Status == models.StatusApproved {
		if err := s.applier.Apply(ctx, req); err != nil {
			applyError = err.Error()
			s.metrics.IncApplyFailures()
			s.reporter.Report(ctx, "approval.apply", err,
				"approval_id", req.ApprovalID,
				"request_type", string(req.RequestType),
			)
		} else {
			now := requestcontext.Now(ctx)
			appliedAt = &now
		}
	}

	if updated, err := s.recordOutcome(ctx, req.ApprovalID, appliedAt, applyError); err != nil {
		s.reporter.Report(ctx, "approval.sanitize", err, "approval_id", req.ApprovalID)
	} else {
		req = updated
	}

	eventType := auditmodels.EventApprovalRejected
	kind := notify.KindApprovalRequestRejected
	if req.Status == models.StatusApproved {
		eventType = auditmodels.EventApprovalApproved
		kind = notify.KindApprovalRequestApproved
	}
	s.logger.InfoContext(ctx, string(eventType),
		"approval_id", req.ApprovalID,
		"request_type", string(req.RequestType),
	)

	oldValue, newValue := auditValues(req)
	s.auditor.RecordOrReport(ctx, auditmodels.Input{
		UserID:       req.UserID,
		EventType:    eventType,
		FieldChanged: req.RequestType.AuditField(),
		OldValue:     oldValue,
		NewValue:     newValue,
		Role:         "admin",
		Metadata: withClientMetadata(ctx, map[string]any{
			"approvalId":  req.ApprovalID,
			"requestType": string(req.RequestType),
			"requestedBy": req.RequestedBy,
			"approvedBy":  req.Approvers(),
			"rejectedBy":  req.Rejecters(),
			"finalStatus": string(req.Status),
		}),
	})
	s.notifier.Notify(ctx, req.RequestedBy, kind, map[string]any{
		"approvalId":  req.ApprovalID,
		"requestType": string(req.RequestType),
		"status":      string(req.Status),
		"decidedBy":   cmd.AdminID,
		"comment":     strings.TrimSpace(cmd.Comment),
	})
	return req
}

// recordOutcome stores the apply result and strips staged secrets. It is the
// only write allowed after finalization and happens once.
func (s *Service) recordOutcome(ctx context.Context, approvalID string, appliedAt *time.Time, applyError string) (*models.Request, error) {
	for attempt := 0; ; attempt++ {
		req, err := s.store.FindByApprovalID(ctx, approvalID)
		if err != nil {
			return nil, fmt.Errorf("reload approval request: %w", err)
		}
		if req.MetadataSanitized {
			return req, nil
		}
		req.Sanitize()
		req.AppliedAt = appliedAt
		req.ApplyError = applyError
		req.UpdatedAt = requestcontext.Now(ctx)

		err = s.store.Update(ctx, req)
		if err == nil {
			return req, nil
		}
		if !errors.Is(err, sentinel.ErrConflict) || attempt >= s.maxRetries {
			return nil, fmt.Errorf("save approval outcome: %w", err)
		}
	}
}

// auditValues renders the proposed change for the audit trail. Secrets are
// always redacted.
func auditValues(req *models.Request) (oldValue, newValue string) {
	d := req.RequestDetails
	switch req.RequestType {
	case models.RequestTypePasswordChange:
		return auditmodels.RedactedMarker, auditmodels.RedactedMarker
	case models.RequestTypeEmailChange:
		return text(d["oldEmail"]), text(d["newEmail"])
	case models.RequestTypePersonalInfoChange:
		return text(d["oldValues"]), text(d["newValues"])
	case models.RequestTypeIDVerification:
		if v, ok := d["verified"]; ok {
			return "", text(v)
		}
		return "", "true"
	case models.RequestTypeAccountStatusChange:
		return text(d["oldIsActive"]), text(d["isActive"])
	case models.RequestTypeRoleChange:
		return text(d["oldRole"]), text(d["newRole"])
	case models.RequestTypeMaintenanceMode:
		return "", text(d["action"])
	}
	return text(d["oldValue"]), text(d["newValue"])
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
	return fmt.Sprint(v)
}
