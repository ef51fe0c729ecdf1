//go:build integration

package redis_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"bizportal/internal/approval/models"
	approvalredis "bizportal/internal/approval/store/redis"
	"bizportal/pkg/platform/sentinel"
	"bizportal/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *approvalredis.Store
	ctx   context.Context
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = approvalredis.New(s.redis.Client)
	s.ctx = context.Background()
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(s.ctx))
}

func newRequest(approvalID string, createdAt time.Time) *models.Request {
	return &models.Request{
		ID:                uuid.New(),
		ApprovalID:        approvalID,
		RequestType:       models.RequestTypeRoleChange,
		UserID:            "user-1",
		RequestedBy:       "admin-1",
		RequestDetails:    map[string]any{"newRole": "staff"},
		Status:            models.StatusPending,
		Approvals:         []models.Vote{},
		RequiredApprovals: 2,
		Metadata:          map[string]any{},
		CreatedAt:         createdAt,
		UpdatedAt:         createdAt,
		Version:           1,
	}
}

func (s *RedisStoreSuite) TestCreateAndFind() {
	req := newRequest("APPROVAL-1-AAAAAAAAA", time.Now().UTC())
	s.Require().NoError(s.store.Create(s.ctx, req))
	s.ErrorIs(s.store.Create(s.ctx, req), sentinel.ErrConflict)

	got, err := s.store.FindByApprovalID(s.ctx, req.ApprovalID)
	s.Require().NoError(err)
	s.Equal(req.ID, got.ID)
	s.Equal("staff", got.RequestDetails["newRole"])

	_, err = s.store.FindByApprovalID(s.ctx, "APPROVAL-0-MISSING00")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisStoreSuite) TestUpdateMovesStatusIndex() {
	req := newRequest("APPROVAL-1-BBBBBBBBB", time.Now().UTC())
	s.Require().NoError(s.store.Create(s.ctx, req))

	req.Status = models.StatusRejected
	s.Require().NoError(s.store.Update(s.ctx, req))
	s.Equal(int64(2), req.Version)

	pending, total, err := s.store.List(s.ctx, models.Filter{Status: models.StatusPending, Limit: 10})
	s.Require().NoError(err)
	s.Zero(total)
	s.Empty(pending)

	rejected, total, err := s.store.List(s.ctx, models.Filter{Status: models.StatusRejected, Limit: 10})
	s.Require().NoError(err)
	s.Equal(1, total)
	s.Equal(req.ApprovalID, rejected[0].ApprovalID)
}

func (s *RedisStoreSuite) TestStaleVersionConflicts() {
	req := newRequest("APPROVAL-1-CCCCCCCCC", time.Now().UTC())
	s.Require().NoError(s.store.Create(s.ctx, req))

	stale := *req
	s.Require().NoError(s.store.Update(s.ctx, req))
	s.ErrorIs(s.store.Update(s.ctx, &stale), sentinel.ErrConflict)
}

func (s *RedisStoreSuite) TestConcurrentUpdatesHaveOneWinner() {
	req := newRequest("APPROVAL-1-DDDDDDDDD", time.Now().UTC())
	s.Require().NoError(s.store.Create(s.ctx, req))

	const writers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cp := *req
			cp.Approvals = []models.Vote{{AdminID: string(rune('a' + i)), Approved: true}}
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

	got, err := s.store.FindByApprovalID(s.ctx, req.ApprovalID)
	s.Require().NoError(err)
	s.Equal(int64(2), got.Version)
	s.Len(got.Approvals, 1)
}

func (s *RedisStoreSuite) TestListNewestFirstWithPaging() {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"APPROVAL-1-EEEEEEEE1", "APPROVAL-1-EEEEEEEE2", "APPROVAL-1-EEEEEEEE3"} {
		s.Require().NoError(s.store.Create(s.ctx, newRequest(id, base.Add(time.Duration(i)*time.Minute))))
	}

	page, total, err := s.store.List(s.ctx, models.Filter{Page: 1, Limit: 2})
	s.Require().NoError(err)
	s.Equal(3, total)
	s.Require().Len(page, 2)
	s.Equal("APPROVAL-1-EEEEEEEE3", page[0].ApprovalID)
	s.Equal("APPROVAL-1-EEEEEEEE2", page[1].ApprovalID)

	page, _, err = s.store.List(s.ctx, models.Filter{Page: 2, Limit: 2})
	s.Require().NoError(err)
	s.Require().Len(page, 1)
	s.Equal("APPROVAL-1-EEEEEEEE1", page[0].ApprovalID)
}
