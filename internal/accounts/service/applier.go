package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"bizportal/internal/accounts/models"
	approvalModels "bizportal/internal/approval/models"
	dErrors "bizportal/pkg/domain-errors"
	"bizportal/pkg/platform/sentinel"
	"bizportal/pkg/requestcontext"
)

// Store persists accounts. Update runs fn against the current account and
// saves the result atomically; an error from fn aborts without writing.
type Store interface {
	FindByID(ctx context.Context, id string) (*models.Account, error)
	FindRole(ctx context.Context, id string) (*models.Role, error)
	Update(ctx context.Context, id string, fn func(*models.Account) error) (*models.Account, error)
}

// MaintenanceSwitch holds the portal-wide maintenance window.
type MaintenanceSwitch interface {
	Enable(ctx context.Context, window models.MaintenanceWindow) error
	Disable(ctx context.Context) error
	Current(ctx context.Context) (*models.MaintenanceWindow, error)
}

// Applier performs the account mutation behind an approved request. Apply is
// idempotent per approval id.
type Applier struct {
	store       Store
	maintenance MaintenanceSwitch
	logger      *slog.Logger
	tracer      trace.Tracer
}

type Option func(*Applier)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Applier) {
		a.logger = logger
	}
}

func NewApplier(store Store, maintenance MaintenanceSwitch, opts ...Option) (*Applier, error) {
	if store == nil {
		return nil, errors.New("account store is required")
	}
	if maintenance == nil {
		return nil, errors.New("maintenance switch is required")
	}
	a := &Applier{
		store:       store,
		maintenance: maintenance,
		logger:      slog.Default(),
		tracer:      otel.Tracer("bizportal/accounts"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

var errAlreadyApplied = errors.New("approval already applied")

func (a *Applier) Apply(ctx context.Context, req *approvalModels.Request) error {
	ctx, span := a.tracer.Start(ctx, "accounts.Apply", trace.WithAttributes(
		attribute.String("approval_id", req.ApprovalID),
		attribute.String("request_type", string(req.RequestType)),
	))
	defer span.End()

	if req.Status != approvalModels.StatusApproved {
		return dErrors.New(dErrors.CodeInvariantViolation, "only approved requests can be applied")
	}
	if req.RequestType == approvalModels.RequestTypeMaintenanceMode {
		return a.applyMaintenance(ctx, req)
	}

	mutate, err := a.mutation(ctx, req)
	if err != nil {
		return err
	}
	now := requestcontext.Now(ctx)
	_, err = a.store.Update(ctx, req.UserID, func(acct *models.Account) error {
		if acct.HasApplied(req.ApprovalID) {
			return errAlreadyApplied
		}
		mutate(acct)
		acct.AppliedApprovals = append(acct.AppliedApprovals, req.ApprovalID)
		acct.UpdatedAt = now
		return nil
	})
	switch {
	case errors.Is(err, errAlreadyApplied):
		a.logger.InfoContext(ctx, "approved change already applied",
			"approval_id", req.ApprovalID,
		)
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "target account not found")
	case err != nil:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update account")
	}

	a.logger.InfoContext(ctx, "approved change applied",
		"approval_id", req.ApprovalID,
		"request_type", string(req.RequestType),
		"user_id", req.UserID,
	)
	return nil
}

// mutation validates the request payload up front and returns the change to
// apply inside the store update.
func (a *Applier) mutation(ctx context.Context, req *approvalModels.Request) (func(*models.Account), error) {
	details := req.RequestDetails
	switch req.RequestType {
	case approvalModels.RequestTypeEmailChange:
		email := strings.ToLower(strings.TrimSpace(stringField(details, "newEmail")))
		if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
			return nil, dErrors.New(dErrors.CodeValidation, "newEmail must be a valid email address")
		}
		return func(acct *models.Account) {
			acct.Email = email
			acct.EmailVerified = false
		}, nil

	case approvalModels.RequestTypePasswordChange:
		hash := stringField(req.Metadata, approvalModels.MetadataNewPasswordHash)
		if hash == "" {
			return nil, dErrors.New(dErrors.CodeValidation, "staged password hash not found")
		}
		return func(acct *models.Account) {
			acct.PasswordHash = hash
			// invalidates existing sessions
			acct.TokenVersion++
		}, nil

	case approvalModels.RequestTypePersonalInfoChange:
		values, _ := details["newValues"].(map[string]any)
		if len(values) == 0 {
			return nil, dErrors.New(dErrors.CodeValidation, "newValues is required")
		}
		return func(acct *models.Account) {
			if v := stringField(values, "firstName"); v != "" {
				acct.FirstName = v
			}
			if v := stringField(values, "lastName"); v != "" {
				acct.LastName = v
			}
			if v, ok := values["phoneNumber"].(string); ok {
				acct.PhoneNumber = v
			}
		}, nil

	case approvalModels.RequestTypeIDVerification:
		verified := true
		if v, ok := details["verified"].(bool); ok {
			verified = v
		}
		return func(acct *models.Account) {
			acct.IsVerified = verified
		}, nil

	case approvalModels.RequestTypeAccountStatusChange:
		active, ok := details["isActive"].(bool)
		if !ok {
			return nil, dErrors.New(dErrors.CodeValidation, "isActive must be a boolean")
		}
		return func(acct *models.Account) {
			acct.IsActive = active
			if !active {
				acct.TokenVersion++
			}
		}, nil

	case approvalModels.RequestTypeRoleChange:
		roleID := strings.TrimSpace(stringField(details, "newRole"))
		if roleID == "" {
			return nil, dErrors.New(dErrors.CodeValidation, "newRole is required")
		}
		if _, err := a.store.FindRole(ctx, roleID); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("role %q does not exist", roleID))
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load role")
		}
		return func(acct *models.Account) {
			acct.Role = roleID
		}, nil

	case approvalModels.RequestTypeOther:
		return func(*models.Account) {}, nil
	}
	return nil, dErrors.New(dErrors.CodeValidation, "unsupported request type")
}

func (a *Applier) applyMaintenance(ctx context.Context, req *approvalModels.Request) error {
	details := req.RequestDetails
	switch action := stringField(details, "action"); action {
	case "enable":
		window := models.MaintenanceWindow{
			Active:      true,
			Message:     stringField(details, "message"),
			ActivatedAt: requestcontext.Now(ctx),
			RequestedBy: req.RequestedBy,
			ApprovedBy:  req.Approvers(),
			ApprovalID:  req.ApprovalID,
		}
		if raw := stringField(details, "expectedResumeAt"); raw != "" {
			resume, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return dErrors.New(dErrors.CodeValidation, "expectedResumeAt must be RFC 3339")
			}
			window.ExpectedResumeAt = &resume
		}
		if current, err := a.maintenance.Current(ctx); err == nil && current != nil && current.ApprovalID == req.ApprovalID {
			return nil
		}
		if err := a.maintenance.Enable(ctx, window); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to enable maintenance mode")
		}
	case "disable":
		if err := a.maintenance.Disable(ctx); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to disable maintenance mode")
		}
	default:
		return dErrors.New(dErrors.CodeValidation, "action must be enable or disable")
	}

	a.logger.InfoContext(ctx, "maintenance mode changed",
		"approval_id", req.ApprovalID,
		"action", stringField(details, "action"),
	)
	return nil
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}
