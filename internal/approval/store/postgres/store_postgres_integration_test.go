//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"bizportal/internal/approval/models"
	approvalpg "bizportal/internal/approval/store/postgres"
	"bizportal/pkg/platform/sentinel"
	"bizportal/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *approvalpg.Store
	ctx      context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = approvalpg.New(s.postgres.DB)
	s.ctx = context.Background()
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(s.ctx, "approval_requests"))
}

func newRequest(approvalID string, createdAt time.Time) *models.Request {
	return &models.Request{
		ID:                uuid.New(),
		ApprovalID:        approvalID,
		RequestType:       models.RequestTypePasswordChange,
		UserID:            "user-1",
		RequestedBy:       "admin-1",
		RequestDetails:    map[string]any{"newPassword": "[REDACTED]"},
		Status:            models.StatusPending,
		RequiredApprovals: 2,
		Metadata:          map[string]any{models.MetadataNewPasswordHash: "$2a$10$hash"},
		CreatedAt:         createdAt,
		UpdatedAt:         createdAt,
		Version:           1,
	}
}

func (s *PostgresStoreSuite) TestCreateAndFind() {
	req := newRequest("APPROVAL-1-AAAAAAAAA", time.Now().UTC().Truncate(time.Microsecond))
	s.Require().NoError(s.store.Create(s.ctx, req))

	dup := newRequest(req.ApprovalID, req.CreatedAt)
	s.ErrorIs(s.store.Create(s.ctx, dup), sentinel.ErrConflict)

	got, err := s.store.FindByApprovalID(s.ctx, req.ApprovalID)
	s.Require().NoError(err)
	s.Equal(req.ID, got.ID)
	s.Equal(models.RequestTypePasswordChange, got.RequestType)
	s.Equal("$2a$10$hash", got.Metadata[models.MetadataNewPasswordHash])
	s.Empty(got.Approvals)
	s.Nil(got.AppliedAt)
	s.True(req.CreatedAt.Equal(got.CreatedAt))

	_, err = s.store.FindByApprovalID(s.ctx, "APPROVAL-0-MISSING00")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestUpdate() {
	req := newRequest("APPROVAL-1-BBBBBBBBB", time.Now().UTC())
	s.Require().NoError(s.store.Create(s.ctx, req))

	s.Run("persists votes and outcome", func() {
		applied := time.Now().UTC().Truncate(time.Microsecond)
		req.Approvals = []models.Vote{
			{AdminID: "admin-2", Approved: true, Timestamp: applied},
			{AdminID: "admin-3", Approved: true, Comment: "ok", Timestamp: applied},
		}
		req.Status = models.StatusApproved
		req.Sanitize()
		req.AppliedAt = &applied
		s.Require().NoError(s.store.Update(s.ctx, req))
		s.Equal(int64(2), req.Version)

		got, err := s.store.FindByApprovalID(s.ctx, req.ApprovalID)
		s.Require().NoError(err)
		s.Equal(models.StatusApproved, got.Status)
		s.Equal([]string{"admin-2", "admin-3"}, got.Approvers())
		s.True(got.MetadataSanitized)
		s.NotContains(got.Metadata, models.MetadataNewPasswordHash)
		s.Require().NotNil(got.AppliedAt)
		s.True(applied.Equal(*got.AppliedAt))
	})

	s.Run("stale version conflicts", func() {
		stale := *req
		stale.Version = 1
		s.ErrorIs(s.store.Update(s.ctx, &stale), sentinel.ErrConflict)
	})

	s.Run("missing request", func() {
		ghost := newRequest("APPROVAL-0-GHOST0000", time.Now().UTC())
		s.ErrorIs(s.store.Update(s.ctx, ghost), sentinel.ErrNotFound)
	})
}

func (s *PostgresStoreSuite) TestConcurrentUpdatesHaveOneWinner() {
	req := newRequest("APPROVAL-1-CCCCCCCCC", time.Now().UTC())
	s.Require().NoError(s.store.Create(s.ctx, req))

	const writers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cp := *req
			err := s.store.Update(s.ctx, &cp)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, sentinel.ErrConflict):
				conflicts++
			default:
				s.Failf("unexpected error", "%v", err)
			}
		}()
	}
	wg.Wait()
	s.Equal(1, wins)
	s.Equal(writers-1, conflicts)
}

func (s *PostgresStoreSuite) TestListFiltersAndPages() {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ids := []string{"APPROVAL-1-EEEEEEEE1", "APPROVAL-1-EEEEEEEE2", "APPROVAL-1-EEEEEEEE3"}
	for i, id := range ids {
		s.Require().NoError(s.store.Create(s.ctx, newRequest(id, base.Add(time.Duration(i)*time.Minute))))
	}
	other := newRequest("APPROVAL-1-FFFFFFFFF", base)
	other.RequestedBy = "admin-9"
	other.Status = models.StatusRejected
	s.Require().NoError(s.store.Create(s.ctx, other))

	page, total, err := s.store.List(s.ctx, models.Filter{Status: models.StatusPending, Page: 1, Limit: 2})
	s.Require().NoError(err)
	s.Equal(3, total)
	s.Require().Len(page, 2)
	s.Equal(ids[2], page[0].ApprovalID)
	s.Equal(ids[1], page[1].ApprovalID)

	page, total, err = s.store.List(s.ctx, models.Filter{RequestedBy: "admin-9", Limit: 10})
	s.Require().NoError(err)
	s.Equal(1, total)
	s.Equal(other.ApprovalID, page[0].ApprovalID)
}
