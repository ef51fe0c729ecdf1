package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"bizportal/internal/audit/models"
	"bizportal/internal/audit/service"
	"bizportal/internal/audit/store/memory"
	"bizportal/pkg/testutil"
)

type HandlerSuite struct {
	suite.Suite
	store   *memory.InMemoryStore
	service *service.Service
	router  chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.store = memory.NewInMemoryStore()
	svc, err := service.New(s.store, service.WithLogger(logger))
	s.Require().NoError(err)
	s.service = svc
	s.router = chi.NewRouter()
	New(svc, testutil.PortalTokens(), logger).Register(s.router)
}

func (s *HandlerSuite) record(userID string) *models.Entry {
	entry, err := s.service.Record(context.Background(), models.Input{
		UserID:    userID,
		EventType: models.EventPermitReview,
		Role:      "lgu_officer",
		Metadata:  map[string]any{"decision": "approve"},
	})
	s.Require().NoError(err)
	return entry
}

func (s *HandlerSuite) do(method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// =============================================================================
// Authorization
// =============================================================================

func (s *HandlerSuite) TestAuthorization() {
	s.Run("missing token is unauthorized", func() {
		rec := s.do(http.MethodGet, "/api/admin/audit", "")
		s.Equal(http.StatusUnauthorized, rec.Code)
	})

	s.Run("non-admin role is forbidden", func() {
		rec := s.do(http.MethodGet, "/api/admin/audit", "officer-token")
		s.Equal(http.StatusForbidden, rec.Code)
	})
}

// =============================================================================
// Listing and lookup
// =============================================================================

func (s *HandlerSuite) TestListAndGet() {
	first := s.record("owner-1")
	s.record("owner-2")

	s.Run("filters by user", func() {
		rec := s.do(http.MethodGet, "/api/admin/audit?userId=owner-1", "admin-token")
		s.Require().Equal(http.StatusOK, rec.Code)
		var body listResponse
		s.Require().NoError(json.NewDecoder(rec.Body).Decode(&body))
		s.Equal(1, body.Total)
		s.Equal(first.ID, body.Entries[0].ID)
	})

	s.Run("recent entries without filter", func() {
		rec := s.do(http.MethodGet, "/api/admin/audit", "admin-token")
		s.Require().Equal(http.StatusOK, rec.Code)
		var body listResponse
		s.Require().NoError(json.NewDecoder(rec.Body).Decode(&body))
		s.Equal(2, body.Total)
	})

	s.Run("get by id", func() {
		rec := s.do(http.MethodGet, "/api/admin/audit/"+first.ID.String(), "admin-token")
		s.Require().Equal(http.StatusOK, rec.Code)
		var got models.Entry
		s.Require().NoError(json.NewDecoder(rec.Body).Decode(&got))
		s.Equal(first.Hash, got.Hash)
	})

	s.Run("malformed id is bad request", func() {
		rec := s.do(http.MethodGet, "/api/admin/audit/not-a-uuid", "admin-token")
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

// =============================================================================
// Verification
// =============================================================================

func (s *HandlerSuite) TestVerify() {
	intact := s.record("owner-1")
	tampered := s.record("owner-1")
	s.store.Tamper(tampered.ID, func(e *models.Entry) { e.NewValue = "forged" })

	s.Run("intact entry verifies", func() {
		rec := s.do(http.MethodGet, "/api/admin/audit/"+intact.ID.String()+"/verify", "admin-token")
		s.Require().Equal(http.StatusOK, rec.Code)
		var v models.Verification
		s.Require().NoError(json.NewDecoder(rec.Body).Decode(&v))
		s.True(v.Valid)
	})

	s.Run("tampered entry is reported", func() {
		rec := s.do(http.MethodGet, "/api/admin/audit/"+tampered.ID.String()+"/verify", "admin-token")
		s.Require().Equal(http.StatusOK, rec.Code)
		var v models.Verification
		s.Require().NoError(json.NewDecoder(rec.Body).Decode(&v))
		s.False(v.Valid)
		s.NotEqual(v.StoredHash, v.ComputedHash)
	})

	s.Run("batch stats", func() {
		rec := s.do(http.MethodGet, "/api/admin/audit/verify", "admin-token")
		s.Require().Equal(http.StatusOK, rec.Code)
		var stats models.VerificationStats
		s.Require().NoError(json.NewDecoder(rec.Body).Decode(&stats))
		s.Equal(2, stats.Total)
		s.Equal(1, stats.Tampered)
		s.Equal(2, stats.Unanchored)
	})
}
