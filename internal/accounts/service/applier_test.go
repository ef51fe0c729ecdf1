package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"bizportal/internal/accounts/maintenance"
	"bizportal/internal/accounts/models"
	"bizportal/internal/accounts/store/memory"
	approvalModels "bizportal/internal/approval/models"
	dErrors "bizportal/pkg/domain-errors"
)

type ApplierSuite struct {
	suite.Suite
	store   *memory.InMemoryStore
	maint   *maintenance.MemorySwitch
	applier *Applier
	ctx     context.Context
}

func TestApplierSuite(t *testing.T) {
	suite.Run(t, new(ApplierSuite))
}

func (s *ApplierSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.NewInMemoryStore()
	s.maint = maintenance.NewMemorySwitch()
	for _, r := range []*models.Role{
		{ID: "business_owner", Slug: "business_owner", Name: "Business Owner"},
		{ID: "staff", Slug: "staff", Name: "Staff"},
	} {
		s.Require().NoError(s.store.CreateRole(s.ctx, r))
	}
	s.Require().NoError(s.store.Create(s.ctx, &models.Account{
		ID:            "user-1",
		Email:         "owner@example.com",
		EmailVerified: true,
		FirstName:     "Maria",
		LastName:      "Santos",
		PasswordHash:  "old-hash",
		Role:          "business_owner",
		IsActive:      true,
	}))

	applier, err := NewApplier(s.store, s.maint, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	s.Require().NoError(err)
	s.applier = applier
}

func approved(typ approvalModels.RequestType, details map[string]any) *approvalModels.Request {
	return &approvalModels.Request{
		ApprovalID:     "APPROVAL-1-" + string(typ),
		RequestType:    typ,
		UserID:         "user-1",
		RequestedBy:    "admin-1",
		RequestDetails: details,
		Status:         approvalModels.StatusApproved,
		Approvals: []approvalModels.Vote{
			{AdminID: "admin-2", Approved: true},
			{AdminID: "admin-3", Approved: true},
		},
		Metadata: map[string]any{},
	}
}

func (s *ApplierSuite) account() *models.Account {
	acct, err := s.store.FindByID(s.ctx, "user-1")
	s.Require().NoError(err)
	return acct
}

func (s *ApplierSuite) TestNew() {
	s.Run("store is required", func() {
		_, err := NewApplier(nil, s.maint)
		s.Require().Error(err)
		s.Contains(err.Error(), "account store is required")
	})
	s.Run("maintenance switch is required", func() {
		_, err := NewApplier(s.store, nil)
		s.Require().Error(err)
		s.Contains(err.Error(), "maintenance switch is required")
	})
}

// =============================================================================
// Per request type
// =============================================================================

func (s *ApplierSuite) TestEmailChange() {
	err := s.applier.Apply(s.ctx, approved(approvalModels.RequestTypeEmailChange, map[string]any{"newEmail": " New@Example.com "}))
	s.Require().NoError(err)
	acct := s.account()
	s.Equal("new@example.com", acct.Email)
	s.False(acct.EmailVerified)
}

func (s *ApplierSuite) TestEmailChangeRejectsInvalidAddress() {
	err := s.applier.Apply(s.ctx, approved(approvalModels.RequestTypeEmailChange, map[string]any{"newEmail": "Bob <bob@example.com>"}))
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Equal("owner@example.com", s.account().Email)
}

func (s *ApplierSuite) TestPasswordChange() {
	req := approved(approvalModels.RequestTypePasswordChange, map[string]any{"newPassword": "[REDACTED]"})

	s.Run("requires staged hash", func() {
		err := s.applier.Apply(s.ctx, req)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("applies staged hash and bumps token version", func() {
		req.Metadata[approvalModels.MetadataNewPasswordHash] = "new-hash"
		s.Require().NoError(s.applier.Apply(s.ctx, req))
		acct := s.account()
		s.Equal("new-hash", acct.PasswordHash)
		s.Equal(1, acct.TokenVersion)
	})
}

func (s *ApplierSuite) TestPersonalInfoChange() {
	err := s.applier.Apply(s.ctx, approved(approvalModels.RequestTypePersonalInfoChange, map[string]any{
		"newValues": map[string]any{"lastName": "Reyes", "phoneNumber": "+63 917 000 0000"},
		"oldValues": map[string]any{"lastName": "Santos"},
	}))
	s.Require().NoError(err)
	acct := s.account()
	s.Equal("Maria", acct.FirstName)
	s.Equal("Reyes", acct.LastName)
	s.Equal("+63 917 000 0000", acct.PhoneNumber)
}

func (s *ApplierSuite) TestIDVerification() {
	s.Require().NoError(s.applier.Apply(s.ctx, approved(approvalModels.RequestTypeIDVerification, map[string]any{"documentType": "passport"})))
	s.True(s.account().IsVerified)
}

func (s *ApplierSuite) TestAccountStatusChange() {
	s.Run("requires boolean", func() {
		err := s.applier.Apply(s.ctx, approved(approvalModels.RequestTypeAccountStatusChange, map[string]any{"isActive": "no"}))
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
	s.Run("deactivates", func() {
		s.Require().NoError(s.applier.Apply(s.ctx, approved(approvalModels.RequestTypeAccountStatusChange, map[string]any{"isActive": false})))
		acct := s.account()
		s.False(acct.IsActive)
		s.Equal(1, acct.TokenVersion)
	})
}

func (s *ApplierSuite) TestRoleChange() {
	s.Run("unknown role", func() {
		err := s.applier.Apply(s.ctx, approved(approvalModels.RequestTypeRoleChange, map[string]any{"newRole": "superuser"}))
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
	s.Run("known role", func() {
		s.Require().NoError(s.applier.Apply(s.ctx, approved(approvalModels.RequestTypeRoleChange, map[string]any{"newRole": "staff"})))
		s.Equal("staff", s.account().Role)
	})
}

func (s *ApplierSuite) TestMaintenanceMode() {
	s.Run("enable", func() {
		req := approved(approvalModels.RequestTypeMaintenanceMode, map[string]any{
			"action":           "enable",
			"message":          "Database upgrade",
			"expectedResumeAt": "2026-11-01T08:00:00Z",
		})
		s.Require().NoError(s.applier.Apply(s.ctx, req))
		window, err := s.maint.Current(s.ctx)
		s.Require().NoError(err)
		s.Require().NotNil(window)
		s.True(window.Active)
		s.Equal("Database upgrade", window.Message)
		s.Equal([]string{"admin-2", "admin-3"}, window.ApprovedBy)
		s.Equal(time.Date(2026, 11, 1, 8, 0, 0, 0, time.UTC), window.ExpectedResumeAt.UTC())
		s.Empty(s.account().AppliedApprovals, "maintenance does not touch the target account")
	})
	s.Run("disable", func() {
		req := approved(approvalModels.RequestTypeMaintenanceMode, map[string]any{"action": "disable"})
		req.ApprovalID = "APPROVAL-2"
		s.Require().NoError(s.applier.Apply(s.ctx, req))
		window, err := s.maint.Current(s.ctx)
		s.Require().NoError(err)
		s.Nil(window)
	})
	s.Run("unknown action", func() {
		err := s.applier.Apply(s.ctx, approved(approvalModels.RequestTypeMaintenanceMode, map[string]any{"action": "pause"}))
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

// =============================================================================
// Idempotency and guards
// =============================================================================

func (s *ApplierSuite) TestApplyIsIdempotentPerApproval() {
	req := approved(approvalModels.RequestTypeAccountStatusChange, map[string]any{"isActive": false})
	s.Require().NoError(s.applier.Apply(s.ctx, req))
	s.Require().NoError(s.applier.Apply(s.ctx, req))

	acct := s.account()
	s.Equal(1, acct.TokenVersion, "second apply must not mutate again")
	s.Equal([]string{req.ApprovalID}, acct.AppliedApprovals)
}

func (s *ApplierSuite) TestRefusesNonApprovedRequest() {
	req := approved(approvalModels.RequestTypeOther, map[string]any{"note": "x"})
	req.Status = approvalModels.StatusPending
	err := s.applier.Apply(s.ctx, req)
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func (s *ApplierSuite) TestMissingAccount() {
	req := approved(approvalModels.RequestTypeOther, map[string]any{"note": "x"})
	req.UserID = "ghost"
	err := s.applier.Apply(s.ctx, req)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
