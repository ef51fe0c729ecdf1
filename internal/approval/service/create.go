package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"bizportal/internal/approval/models"
	auditmodels "bizportal/internal/audit/models"
	"bizportal/internal/notify"
	dErrors "bizportal/pkg/domain-errors"
	"bizportal/pkg/platform/sentinel"
	"bizportal/pkg/requestcontext"
)

const minPasswordLength = 8

// CreateCommand files a new approval request.
type CreateCommand struct {
	RequestType string
	// UserID is the account the change targets.
	UserID      string
	RequestedBy string
	Details     map[string]any
	// RequiredApprovals raises the configured quorum for this request. Zero
	// keeps the default; values below MinRequiredApprovals are refused.
	RequiredApprovals int
}

// CreateRequest validates cmd and persists a pending request.
func (s *Service) CreateRequest(ctx context.Context, cmd CreateCommand) (*models.Request, error) {
	ctx, span := s.tracer.Start(ctx, "approval.CreateRequest", trace.WithAttributes(
		attribute.String("request_type", cmd.RequestType),
	))
	defer span.End()

	req, err := s.buildRequest(ctx, cmd)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		err = s.store.Create(ctx, req)
		if err == nil {
			break
		}
		// approval id collision; pick another
		if errors.Is(err, sentinel.ErrConflict) && attempt < s.maxRetries {
			req.ApprovalID = models.NewApprovalID(requestcontext.Now(ctx))
			continue
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create approval request")
	}
	span.SetAttributes(attribute.String("approval_id", req.ApprovalID))
	s.metrics.IncCreated(string(req.RequestType))

	s.logger.InfoContext(ctx, "admin_approval_request",
		"approval_id", req.ApprovalID,
		"request_type", string(req.RequestType),
		"user_id", req.UserID,
		"requested_by", req.RequestedBy,
	)

	s.auditor.RecordOrReport(ctx, auditmodels.Input{
		UserID:       req.UserID,
		EventType:    auditmodels.EventApprovalRequested,
		FieldChanged: "status",
		NewValue:     string(models.StatusPending),
		Role:         "admin",
		Metadata: withClientMetadata(ctx, map[string]any{
			"approvalId":        req.ApprovalID,
			"requestType":       string(req.RequestType),
			"requestedBy":       req.RequestedBy,
			"requiredApprovals": req.RequiredApprovals,
		}),
		Timestamp: req.CreatedAt,
	})
	s.notifier.Notify(ctx, req.RequestedBy, notify.KindApprovalRequestCreated, map[string]any{
		"approvalId":  req.ApprovalID,
		"requestType": string(req.RequestType),
		"userId":      req.UserID,
	})
	return req, nil
}

// buildRequest checks cmd in the documented order: request type, payload,
// self-targeting, then type-specific fields.
func (s *Service) buildRequest(ctx context.Context, cmd CreateCommand) (*models.Request, error) {
	requestType := models.RequestType(strings.TrimSpace(cmd.RequestType))
	if !requestType.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown request type").WithReason(models.ReasonInvalidRequestType)
	}
	if len(cmd.Details) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "request details are required").WithReason(models.ReasonEmptyPayload)
	}
	userID := strings.TrimSpace(cmd.UserID)
	requestedBy := strings.TrimSpace(cmd.RequestedBy)
	if userID == "" || requestedBy == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "target user and requester are required")
	}
	if userID == requestedBy {
		return nil, dErrors.New(dErrors.CodeConflict, "admins cannot file approval requests for their own account").WithReason(models.ReasonSelfTargeting)
	}
	required := s.requiredApprovals
	if cmd.RequiredApprovals != 0 {
		if cmd.RequiredApprovals < models.MinRequiredApprovals {
			return nil, dErrors.New(dErrors.CodeValidation,
				fmt.Sprintf("required approvals must be at least %d", models.MinRequiredApprovals))
		}
		required = max(required, cmd.RequiredApprovals)
	}

	details := maps.Clone(cmd.Details)
	if err := validateDetails(requestType, details); err != nil {
		return nil, err
	}
	metadata := withClientMetadata(ctx, map[string]any{})
	if requestType == models.RequestTypePasswordChange {
		if err := stagePassword(details, metadata); err != nil {
			return nil, err
		}
	}

	now := requestcontext.Now(ctx)
	return &models.Request{
		ID:                uuid.New(),
		ApprovalID:        models.NewApprovalID(now),
		RequestType:       requestType,
		UserID:            userID,
		RequestedBy:       requestedBy,
		RequestDetails:    details,
		Status:            models.StatusPending,
		Approvals:         []models.Vote{},
		RequiredApprovals: required,
		Metadata:          metadata,
		CreatedAt:         now,
		UpdatedAt:         now,
		Version:           1,
	}, nil
}

// validateDetails checks the payload shape each request type needs to be
// applied later. Checks that need account state (role existence) stay with
// the applier.
func validateDetails(t models.RequestType, details map[string]any) error {
	invalid := func(msg string) error {
		return dErrors.New(dErrors.CodeValidation, msg).WithReason(models.ReasonInvalidDetails)
	}
	switch t {
	case models.RequestTypeEmailChange:
		email := strings.ToLower(strings.TrimSpace(stringField(details, "newEmail")))
		if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
			return invalid("newEmail must be a valid email address")
		}
	case models.RequestTypePersonalInfoChange:
		if values, _ := details["newValues"].(map[string]any); len(values) == 0 {
			return invalid("newValues is required")
		}
	case models.RequestTypeIDVerification:
		if v, ok := details["verified"]; ok {
			if _, isBool := v.(bool); !isBool {
				return invalid("verified must be a boolean")
			}
		}
	case models.RequestTypeAccountStatusChange:
		if _, ok := details["isActive"].(bool); !ok {
			return invalid("isActive must be a boolean")
		}
	case models.RequestTypeRoleChange:
		if strings.TrimSpace(stringField(details, "newRole")) == "" {
			return invalid("newRole is required")
		}
	case models.RequestTypeMaintenanceMode:
		switch stringField(details, "action") {
		case "enable":
			if raw := stringField(details, "expectedResumeAt"); raw != "" {
				if _, err := time.Parse(time.RFC3339, raw); err != nil {
					return invalid("expectedResumeAt must be RFC 3339")
				}
			}
		case "disable":
		default:
			return invalid("action must be enable or disable")
		}
	}
	return nil
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

// stagePassword hashes the plaintext password into metadata and redacts it
// from the details that are stored and displayed.
func stagePassword(details, metadata map[string]any) error {
	plain, _ := details["newPassword"].(string)
	if len(plain) < minPasswordLength {
		return dErrors.New(dErrors.CodeValidation, "newPassword must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "newPassword cannot be hashed")
	}
	metadata[models.MetadataNewPasswordHash] = string(hash)
	details["newPassword"] = auditmodels.RedactedMarker
	return nil
}

func withClientMetadata(ctx context.Context, m map[string]any) map[string]any {
	if ip := requestcontext.ClientIP(ctx); ip != "" {
		m["ip"] = ip
	}
	if ua := requestcontext.UserAgent(ctx); ua != "" {
		m["userAgent"] = ua
	}
	if device := requestcontext.DeviceSummary(ctx); device != "" {
		m["device"] = device
	}
	return m
}
