//go:build integration

package bucket_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"bizportal/internal/ratelimit/store/bucket"
	"bizportal/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *bucket.RedisStore
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
	s.store = bucket.NewRedisStore(s.redis.Client)
	s.ctx = context.Background()
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(s.ctx))
}

func (s *RedisStoreSuite) TestAllowUpToLimit() {
	for i := range 3 {
		result, err := s.store.Allow(s.ctx, "admin_approval:user:admin-1", 3, time.Minute)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(2-i, result.Remaining)
	}

	result, err := s.store.Allow(s.ctx, "admin_approval:user:admin-1", 3, time.Minute)
	s.Require().NoError(err)
	s.False(result.Allowed)
	s.Equal(0, result.Remaining)
	s.True(result.ResetAt.After(time.Now()))

	other, err := s.store.Allow(s.ctx, "admin_approval:user:admin-2", 3, time.Minute)
	s.Require().NoError(err)
	s.True(other.Allowed)
}

func (s *RedisStoreSuite) TestWindowExpires() {
	for range 2 {
		_, err := s.store.Allow(s.ctx, "short", 2, 200*time.Millisecond)
		s.Require().NoError(err)
	}
	result, err := s.store.Allow(s.ctx, "short", 2, 200*time.Millisecond)
	s.Require().NoError(err)
	s.False(result.Allowed)

	time.Sleep(250 * time.Millisecond)
	result, err = s.store.Allow(s.ctx, "short", 2, 200*time.Millisecond)
	s.Require().NoError(err)
	s.True(result.Allowed)
}

func (s *RedisStoreSuite) TestReset() {
	_, err := s.store.Allow(s.ctx, "reset", 1, time.Minute)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Reset(s.ctx, "reset"))

	result, err := s.store.Allow(s.ctx, "reset", 1, time.Minute)
	s.Require().NoError(err)
	s.True(result.Allowed)
}
