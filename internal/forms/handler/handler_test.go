package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"bizportal/internal/forms/models"
	"bizportal/internal/forms/service"
	"bizportal/internal/forms/store/memory"
	"bizportal/pkg/testutil"
)

type HandlerSuite struct {
	suite.Suite
	router chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.reset()
}

func (s *HandlerSuite) SetupSubTest() {
	s.reset()
}

func (s *HandlerSuite) reset() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := service.New(memory.NewInMemoryStore(), service.WithLogger(logger))
	s.Require().NoError(err)
	s.router = chi.NewRouter()
	New(svc, testutil.PortalTokens(), logger).Register(s.router)
}

func (s *HandlerSuite) do(method, path, token, body string) *httptest.ResponseRecorder {
	return testutil.DoRequest(s.router, testutil.NewRequest(s.T(), method, path, token, body))
}

func decode[T any](s *HandlerSuite, rec *httptest.ResponseRecorder) T {
	return testutil.UnmarshalResponse[T](s.T(), rec)
}

// publish creates a group through the API and publishes its first version.
func (s *HandlerSuite) publish(formType, scope string) (groupID, definitionID string) {
	rec := s.do(http.MethodPost, "/api/admin/form-definitions/groups", "admin-token",
		`{"formType":"`+formType+`","industryScope":"`+scope+`"}`)
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	details := decode[models.GroupDetails](s, rec)
	groupID = details.Group.ID.String()
	definitionID = details.Versions[0].ID.String()

	rec = s.do(http.MethodPut, "/api/admin/form-definitions/"+definitionID, "admin-token",
		`{"sections":[{"category":"Identity","items":[{"label":"Valid ID","required":true}]}]}`)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	rec = s.do(http.MethodPost, "/api/admin/form-definitions/"+definitionID+"/publish", "admin-token", "")
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	return groupID, definitionID
}

func (s *HandlerSuite) TestAdminAuthorization() {
	rec := s.do(http.MethodGet, "/api/admin/form-definitions/groups", "", "")
	s.Equal(http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/api/admin/form-definitions/groups", "officer-token", "")
	s.Equal(http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodGet, "/api/admin/form-definitions/groups", "admin-token", "")
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"groups":[]}`, rec.Body.String())
}

func (s *HandlerSuite) TestResolve() {
	s.Run("public and picks the specific form", func() {
		s.publish("registration", "all")
		_, food := s.publish("registration", "food_beverages")

		rec := s.do(http.MethodGet, "/api/forms/resolve?formType=registration&businessType=food_beverages&lgu=mnl", "", "")
		s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
		body := decode[map[string]any](s, rec)
		s.Equal(food, body["id"])
		s.Equal(fmt.Sprintf("%d.1", time.Now().UTC().Year()), body["version"])
		s.NotContains(body, "createdBy")
	})

	s.Run("missing form type", func() {
		rec := s.do(http.MethodGet, "/api/forms/resolve", "", "")
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("nothing published", func() {
		rec := s.do(http.MethodGet, "/api/forms/resolve?formType=appeal", "", "")
		s.Equal(http.StatusNotFound, rec.Code)
	})

	s.Run("deactivated group returns 503 with reactivation details", func() {
		group, _ := s.publish("permit", "all")
		until := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)

		rec := s.do(http.MethodPost, "/api/admin/form-definitions/groups/"+group+"/deactivate", "admin-token",
			`{"deactivatedUntil":"`+until.Format(time.RFC3339)+`","reason":"system maintenance"}`)
		s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

		rec = s.do(http.MethodGet, "/api/forms/resolve?formType=permit", "", "")
		s.Require().Equal(http.StatusServiceUnavailable, rec.Code)
		var body struct {
			Error   string `json:"error"`
			Reason  string `json:"reason"`
			Details struct {
				ReactivateAt time.Time `json:"reactivateAt"`
				Reason       string    `json:"reason"`
			} `json:"details"`
		}
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
		s.Equal("unavailable", body.Error)
		s.Equal(models.ReasonTemporarilyUnavailable, body.Reason)
		s.True(until.Equal(body.Details.ReactivateAt))
		s.Equal("system maintenance", body.Details.Reason)

		rec = s.do(http.MethodPost, "/api/admin/form-definitions/groups/"+group+"/reactivate", "admin-token", "")
		s.Require().Equal(http.StatusOK, rec.Code)
		rec = s.do(http.MethodGet, "/api/forms/resolve?formType=permit", "", "")
		s.Equal(http.StatusOK, rec.Code)
	})
}

func (s *HandlerSuite) TestLifecycle() {
	s.Run("versions, submit, cancel, archive", func() {
		group, first := s.publish("renewal", "all")

		rec := s.do(http.MethodPost, "/api/admin/form-definitions/groups/"+group+"/versions", "admin-token", "")
		s.Require().Equal(http.StatusCreated, rec.Code)
		next := decode[models.Definition](s, rec)
		s.Equal(models.StatusDraft, next.Status)

		rec = s.do(http.MethodPost, "/api/admin/form-definitions/"+next.ID.String()+"/submit-for-approval", "admin-token", "")
		s.Equal(http.StatusBadRequest, rec.Code, "no sections yet")

		rec = s.do(http.MethodPut, "/api/admin/form-definitions/"+next.ID.String(), "admin-token",
			`{"sections":[{"category":"Fees","items":[{"label":"Official receipt","required":true}]}],"jurisdictionCodes":["ceb"]}`)
		s.Require().Equal(http.StatusOK, rec.Code)
		s.Equal([]string{"CEB"}, decode[models.Definition](s, rec).JurisdictionCodes)

		rec = s.do(http.MethodPost, "/api/admin/form-definitions/"+next.ID.String()+"/submit-for-approval", "admin-token", "")
		s.Require().Equal(http.StatusOK, rec.Code)
		s.Equal(models.StatusPendingApproval, decode[models.Definition](s, rec).Status)

		rec = s.do(http.MethodPost, "/api/admin/form-definitions/"+next.ID.String()+"/cancel-approval", "admin-token", "")
		s.Require().Equal(http.StatusOK, rec.Code)

		rec = s.do(http.MethodPost, "/api/admin/form-definitions/"+first+"/archive", "admin-token", "")
		s.Require().Equal(http.StatusOK, rec.Code)
		rec = s.do(http.MethodPut, "/api/admin/form-definitions/"+first, "admin-token", `{"name":"x"}`)
		s.Equal(http.StatusConflict, rec.Code)

		rec = s.do(http.MethodGet, "/api/admin/form-definitions/groups/"+group, "admin-token", "")
		s.Require().Equal(http.StatusOK, rec.Code)
		s.Len(decode[models.GroupDetails](s, rec).Versions, 2)
	})

	s.Run("duplicate group is a conflict", func() {
		s.publish("permit", "all")
		rec := s.do(http.MethodPost, "/api/admin/form-definitions/groups", "admin-token", `{"formType":"permit"}`)
		testutil.AssertStatusAndError(s.T(), rec, http.StatusConflict, "conflict")
		s.Contains(rec.Body.String(), models.ReasonGroupExists)
	})

	s.Run("retire then list with retired", func() {
		group, _ := s.publish("cessation", "all")
		rec := s.do(http.MethodPost, "/api/admin/form-definitions/groups/"+group+"/retire", "admin-token", "")
		s.Require().Equal(http.StatusOK, rec.Code)

		rec = s.do(http.MethodGet, "/api/admin/form-definitions/groups", "admin-token", "")
		s.JSONEq(`{"groups":[]}`, rec.Body.String())
		rec = s.do(http.MethodGet, "/api/admin/form-definitions/groups?includeRetired=true", "admin-token", "")
		s.Len(decode[map[string][]any](s, rec)["groups"], 1)
	})

	s.Run("bad ids and bodies", func() {
		rec := s.do(http.MethodGet, "/api/admin/form-definitions/not-a-uuid", "admin-token", "")
		s.Equal(http.StatusBadRequest, rec.Code)

		group, _ := s.publish("appeal", "all")
		rec = s.do(http.MethodPost, "/api/admin/form-definitions/groups/"+group+"/deactivate", "admin-token", `{"reason":"x"}`)
		s.Equal(http.StatusBadRequest, rec.Code)
		rec = s.do(http.MethodPost, "/api/admin/form-definitions/groups/"+group+"/deactivate", "admin-token",
			`{"deactivatedUntil":"2001-01-01T00:00:00Z"}`)
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}
