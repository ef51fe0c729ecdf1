package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	auditmodels "bizportal/internal/audit/models"
	auditservice "bizportal/internal/audit/service"
	auditmemory "bizportal/internal/audit/store/memory"
	"bizportal/internal/forms/models"
	"bizportal/internal/forms/store/memory"
	dErrors "bizportal/pkg/domain-errors"
	"bizportal/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	store   *memory.Store
	audit   *auditservice.Service
	service *Service
	now     time.Time
	ctx     context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.reset()
}

func (s *ServiceSuite) SetupSubTest() {
	s.reset()
}

func (s *ServiceSuite) reset() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.store = memory.NewInMemoryStore()
	audit, err := auditservice.New(auditmemory.NewInMemoryStore(), auditservice.WithLogger(logger))
	s.Require().NoError(err)
	s.audit = audit
	s.service, err = New(s.store, WithAuditRecorder(audit), WithLogger(logger))
	s.Require().NoError(err)

	s.now = time.Date(2026, 4, 10, 8, 0, 0, 0, time.UTC)
	s.ctx = s.at(s.now)
}

func (s *ServiceSuite) at(t time.Time) context.Context {
	ctx := requestcontext.WithActor(context.Background(), "admin-1", "admin")
	return requestcontext.WithTime(ctx, t)
}

func sections() *[]models.Section {
	return &[]models.Section{{
		Category: "Identity",
		Items:    []models.Item{{Label: "Valid government ID", Required: true}},
	}}
}

// publishedGroup creates a group whose first version is published with the
// given targeting.
func (s *ServiceSuite) publishedGroup(formType models.FormType, scope string, codes ...string) (*models.Group, *models.Definition) {
	details, err := s.service.CreateGroup(s.ctx, CreateGroupCommand{FormType: formType, IndustryScope: scope})
	s.Require().NoError(err)
	draft := details.Versions[0]
	upd := models.DefinitionUpdate{Sections: sections()}
	if len(codes) > 0 {
		upd.JurisdictionCodes = &codes
	}
	_, err = s.service.UpdateDefinition(s.ctx, draft.ID, upd)
	s.Require().NoError(err)
	def, err := s.service.Publish(s.ctx, draft.ID)
	s.Require().NoError(err)
	return details.Group, def
}

func (s *ServiceSuite) auditEvents() []auditmodels.EventType {
	entries, err := s.audit.ListByUser(context.Background(), "admin-1")
	s.Require().NoError(err)
	var out []auditmodels.EventType
	for _, e := range entries {
		out = append(out, e.EventType)
	}
	return out
}

func (s *ServiceSuite) TestNew() {
	_, err := New(nil)
	s.Error(err)

	svc, err := New(s.store)
	s.Require().NoError(err)
	s.NotNil(svc)
}

// =============================================================================
// Resolve
// =============================================================================

func (s *ServiceSuite) TestResolve() {
	s.Run("prefers the business-type specific form", func() {
		s.publishedGroup(models.FormTypeRegistration, models.IndustryScopeAll)
		_, food := s.publishedGroup(models.FormTypeRegistration, "food_beverages")

		def, err := s.service.Resolve(s.ctx, models.Query{
			FormType:     models.FormTypeRegistration,
			BusinessType: "food_beverages",
		})
		s.Require().NoError(err)
		s.Equal(food.ID, def.ID)
	})

	s.Run("falls back to the global form", func() {
		_, global := s.publishedGroup(models.FormTypeRegistration, models.IndustryScopeAll)
		s.publishedGroup(models.FormTypeRegistration, "food_beverages")

		def, err := s.service.Resolve(s.ctx, models.Query{
			FormType:     models.FormTypeRegistration,
			BusinessType: "retail",
		})
		s.Require().NoError(err)
		s.Equal(global.ID, def.ID)
	})

	s.Run("jurisdiction targeting", func() {
		_, mnl := s.publishedGroup(models.FormTypePermit, models.IndustryScopeAll, "mnl")

		def, err := s.service.Resolve(s.ctx, models.Query{FormType: models.FormTypePermit, JurisdictionCode: "MNL"})
		s.Require().NoError(err)
		s.Equal(mnl.ID, def.ID)

		_, err = s.service.Resolve(s.ctx, models.Query{FormType: models.FormTypePermit, JurisdictionCode: "CEB"})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("nothing published", func() {
		_, err := s.service.Resolve(s.ctx, models.Query{FormType: models.FormTypeAppeal})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("unknown form type", func() {
		_, err := s.service.Resolve(s.ctx, models.Query{FormType: "tax"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("deactivated group is unavailable, not missing", func() {
		group, _ := s.publishedGroup(models.FormTypeRenewal, models.IndustryScopeAll)
		until := s.now.Add(6 * time.Hour)
		_, err := s.service.Deactivate(s.ctx, group.ID, until, "annual fee update")
		s.Require().NoError(err)

		_, err = s.service.Resolve(s.ctx, models.Query{FormType: models.FormTypeRenewal})
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
		s.True(dErrors.HasReason(err, models.ReasonTemporarilyUnavailable))
		var unavailable *models.Unavailable
		s.Require().True(errors.As(err, &unavailable))
		s.True(until.Equal(unavailable.ReactivateAt))
		s.Equal("annual fee update", unavailable.Reason)

		_, err = s.service.Resolve(s.at(until), models.Query{FormType: models.FormTypeRenewal})
		s.NoError(err, "window has ended")
	})

	s.Run("deactivation without a reason uses the default message", func() {
		group, _ := s.publishedGroup(models.FormTypeRenewal, models.IndustryScopeAll)
		_, err := s.service.Deactivate(s.ctx, group.ID, s.now.Add(time.Hour), "")
		s.Require().NoError(err)

		_, err = s.service.Resolve(s.ctx, models.Query{FormType: models.FormTypeRenewal})
		var unavailable *models.Unavailable
		s.Require().True(errors.As(err, &unavailable))
		s.Equal(defaultUnavailableReason, unavailable.Reason)
	})

	s.Run("retired groups never resolve", func() {
		group, _ := s.publishedGroup(models.FormTypeCessation, models.IndustryScopeAll)
		_, err := s.service.Retire(s.ctx, group.ID)
		s.Require().NoError(err)

		_, err = s.service.Resolve(s.ctx, models.Query{FormType: models.FormTypeCessation})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("scheduled version is not yet effective", func() {
		details, err := s.service.CreateGroup(s.ctx, CreateGroupCommand{FormType: models.FormTypeViolation})
		s.Require().NoError(err)
		start := s.now.Add(24 * time.Hour)
		_, err = s.service.UpdateDefinition(s.ctx, details.Versions[0].ID, models.DefinitionUpdate{
			Sections:      sections(),
			EffectiveFrom: &start,
		})
		s.Require().NoError(err)
		_, err = s.service.Publish(s.ctx, details.Versions[0].ID)
		s.Require().NoError(err)

		_, err = s.service.Resolve(s.ctx, models.Query{FormType: models.FormTypeViolation})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		_, err = s.service.Resolve(s.at(start), models.Query{FormType: models.FormTypeViolation})
		s.NoError(err)
	})
}

// =============================================================================
// Groups and versions
// =============================================================================

func (s *ServiceSuite) TestCreateGroup() {
	s.Run("creates the first draft version", func() {
		details, err := s.service.CreateGroup(s.ctx, CreateGroupCommand{
			FormType:      models.FormTypePermit,
			IndustryScope: "food_beverages",
		})
		s.Require().NoError(err)
		s.Equal("Business Permit - food_beverages", details.Group.Name)
		s.Require().Len(details.Versions, 1)
		first := details.Versions[0]
		s.Equal("2026.1", first.Version)
		s.Equal(models.StatusDraft, first.Status)
		s.Equal([]string{"food_beverages"}, first.BusinessTypes)
		s.Equal("admin-1", first.CreatedBy)
	})

	s.Run("one live group per type and scope", func() {
		details, err := s.service.CreateGroup(s.ctx, CreateGroupCommand{FormType: models.FormTypePermit})
		s.Require().NoError(err)
		_, err = s.service.CreateGroup(s.ctx, CreateGroupCommand{FormType: models.FormTypePermit, IndustryScope: "all"})
		s.True(dErrors.HasReason(err, models.ReasonGroupExists))

		_, err = s.service.Retire(s.ctx, details.Group.ID)
		s.Require().NoError(err)
		_, err = s.service.CreateGroup(s.ctx, CreateGroupCommand{FormType: models.FormTypePermit})
		s.NoError(err, "retiring frees the pair")
	})

	s.Run("unknown form type", func() {
		_, err := s.service.CreateGroup(s.ctx, CreateGroupCommand{FormType: "tax"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestCreateVersion() {
	s.Run("numbers versions within the year", func() {
		details, err := s.service.CreateGroup(s.ctx, CreateGroupCommand{FormType: models.FormTypeRenewal})
		s.Require().NoError(err)

		second, err := s.service.CreateVersion(s.ctx, details.Group.ID)
		s.Require().NoError(err)
		s.Equal("2026.2", second.Version)

		nextYear := s.at(time.Date(2027, 1, 2, 0, 0, 0, 0, time.UTC))
		third, err := s.service.CreateVersion(nextYear, details.Group.ID)
		s.Require().NoError(err)
		s.Equal("2027.1", third.Version)

		got, err := s.service.GetGroup(s.ctx, details.Group.ID)
		s.Require().NoError(err)
		s.Len(got.Versions, 3)
	})

	s.Run("concurrent versions get distinct numbers", func() {
		details, err := s.service.CreateGroup(s.ctx, CreateGroupCommand{FormType: models.FormTypeRenewal})
		s.Require().NoError(err)

		const workers = 5
		var (
			wg      sync.WaitGroup
			success atomic.Int32
		)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.service.CreateVersion(s.ctx, details.Group.ID); err == nil {
					success.Add(1)
				}
			}()
		}
		wg.Wait()
		s.Equal(int32(workers), success.Load())

		got, err := s.service.GetGroup(s.ctx, details.Group.ID)
		s.Require().NoError(err)
		seen := map[string]bool{}
		for _, v := range got.Versions {
			s.False(seen[v.Version], "duplicate version %s", v.Version)
			seen[v.Version] = true
		}
		s.Len(seen, workers+1)
	})

	s.Run("retired group", func() {
		details, err := s.service.CreateGroup(s.ctx, CreateGroupCommand{FormType: models.FormTypeRenewal})
		s.Require().NoError(err)
		_, err = s.service.Retire(s.ctx, details.Group.ID)
		s.Require().NoError(err)

		_, err = s.service.CreateVersion(s.ctx, details.Group.ID)
		s.True(dErrors.HasReason(err, models.ReasonGroupRetired))
	})

	s.Run("unknown group", func() {
		_, err := s.service.CreateVersion(s.ctx, uuid.New())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

// =============================================================================
// Definition lifecycle
// =============================================================================

func (s *ServiceSuite) TestUpdateDefinition() {
	s.Run("normalizes targeting", func() {
		details, err := s.service.CreateGroup(s.ctx, CreateGroupCommand{FormType: models.FormTypePermit})
		s.Require().NoError(err)
		types := []string{" retail ", "retail", ""}
		codes := []string{"mnl", " MNL", "ceb"}

		def, err := s.service.UpdateDefinition(s.ctx, details.Versions[0].ID, models.DefinitionUpdate{
			BusinessTypes:     &types,
			JurisdictionCodes: &codes,
			Sections:          sections(),
		})
		s.Require().NoError(err)
		s.Equal([]string{"retail"}, def.BusinessTypes)
		s.Equal([]string{"MNL", "CEB"}, def.JurisdictionCodes)
		s.Len(def.Sections, 1)
	})

	s.Run("effective window must be ordered", func() {
		details, err := s.service.CreateGroup(s.ctx, CreateGroupCommand{FormType: models.FormTypePermit})
		s.Require().NoError(err)
		from := s.now.Add(time.Hour)
		to := s.now

		_, err = s.service.UpdateDefinition(s.ctx, details.Versions[0].ID, models.DefinitionUpdate{
			EffectiveFrom: &from,
			EffectiveTo:   &to,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("blank section category", func() {
		details, err := s.service.CreateGroup(s.ctx, CreateGroupCommand{FormType: models.FormTypePermit})
		s.Require().NoError(err)
		bad := []models.Section{{Category: " "}}

		_, err = s.service.UpdateDefinition(s.ctx, details.Versions[0].ID, models.DefinitionUpdate{Sections: &bad})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("published versions are read-only", func() {
		_, def := s.publishedGroup(models.FormTypePermit, models.IndustryScopeAll)
		name := "renamed"

		_, err := s.service.UpdateDefinition(s.ctx, def.ID, models.DefinitionUpdate{Name: &name})
		s.True(dErrors.HasReason(err, models.ReasonInvalidTransition))
	})
}

func (s *ServiceSuite) TestApprovalFlow() {
	s.Run("submit needs sections", func() {
		details, err := s.service.CreateGroup(s.ctx, CreateGroupCommand{FormType: models.FormTypeAppeal})
		s.Require().NoError(err)

		_, err = s.service.SubmitForApproval(s.ctx, details.Versions[0].ID)
		s.True(dErrors.HasReason(err, models.ReasonNoSections))
	})

	s.Run("submit then cancel returns to draft", func() {
		details, err := s.service.CreateGroup(s.ctx, CreateGroupCommand{FormType: models.FormTypeAppeal})
		s.Require().NoError(err)
		id := details.Versions[0].ID
		_, err = s.service.UpdateDefinition(s.ctx, id, models.DefinitionUpdate{Sections: sections()})
		s.Require().NoError(err)

		def, err := s.service.SubmitForApproval(s.ctx, id)
		s.Require().NoError(err)
		s.Equal(models.StatusPendingApproval, def.Status)

		def, err = s.service.CancelApproval(s.ctx, id)
		s.Require().NoError(err)
		s.Equal(models.StatusDraft, def.Status)

		_, err = s.service.CancelApproval(s.ctx, id)
		s.True(dErrors.HasReason(err, models.ReasonInvalidTransition))
	})

	s.Run("pending versions can be published", func() {
		details, err := s.service.CreateGroup(s.ctx, CreateGroupCommand{FormType: models.FormTypeAppeal})
		s.Require().NoError(err)
		id := details.Versions[0].ID
		_, err = s.service.UpdateDefinition(s.ctx, id, models.DefinitionUpdate{Sections: sections()})
		s.Require().NoError(err)
		_, err = s.service.SubmitForApproval(s.ctx, id)
		s.Require().NoError(err)

		def, err := s.service.Publish(s.ctx, id)
		s.Require().NoError(err)
		s.Equal(models.StatusPublished, def.Status)
		s.True(s.now.Equal(*def.PublishedAt))
	})
}

func (s *ServiceSuite) TestPublish() {
	s.Run("archives the previous version and audits", func() {
		group, first := s.publishedGroup(models.FormTypeRegistration, models.IndustryScopeAll)
		next, err := s.service.CreateVersion(s.ctx, group.ID)
		s.Require().NoError(err)
		_, err = s.service.UpdateDefinition(s.ctx, next.ID, models.DefinitionUpdate{Sections: sections()})
		s.Require().NoError(err)

		later := s.at(s.now.Add(time.Hour))
		promoted, err := s.service.Publish(later, next.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusPublished, promoted.Status)

		old, err := s.service.GetDefinition(s.ctx, first.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusArchived, old.Status)

		resolved, err := s.service.Resolve(later, models.Query{FormType: models.FormTypeRegistration})
		s.Require().NoError(err)
		s.Equal(next.ID, resolved.ID)

		entries, err := s.audit.ListByUser(context.Background(), "admin-1")
		s.Require().NoError(err)
		var publishes []*auditmodels.Entry
		for _, e := range entries {
			if e.EventType == auditmodels.EventFormDefinitionPublished {
				publishes = append(publishes, e)
			}
		}
		s.Require().Len(publishes, 2)
		var second *auditmodels.Entry
		for _, e := range publishes {
			if e.Metadata["definitionId"] == next.ID.String() {
				second = e
			}
		}
		s.Require().NotNil(second)
		s.Equal("draft", second.OldValue)
		s.Equal("published", second.NewValue)
		s.Equal("admin", second.Role)
		s.Equal([]any{first.ID.String()}, second.Metadata["supersededIds"])
	})

	s.Run("needs sections", func() {
		details, err := s.service.CreateGroup(s.ctx, CreateGroupCommand{FormType: models.FormTypeRegistration})
		s.Require().NoError(err)

		_, err = s.service.Publish(s.ctx, details.Versions[0].ID)
		s.True(dErrors.HasReason(err, models.ReasonNoSections))
		s.Empty(s.auditEvents())
	})

	s.Run("concurrent publishes leave one live version", func() {
		details, err := s.service.CreateGroup(s.ctx, CreateGroupCommand{FormType: models.FormTypeRegistration})
		s.Require().NoError(err)
		ids := []uuid.UUID{details.Versions[0].ID}
		for range 4 {
			v, err := s.service.CreateVersion(s.ctx, details.Group.ID)
			s.Require().NoError(err)
			ids = append(ids, v.ID)
		}
		for _, id := range ids {
			_, err := s.service.UpdateDefinition(s.ctx, id, models.DefinitionUpdate{Sections: sections()})
			s.Require().NoError(err)
		}

		var wg sync.WaitGroup
		for _, id := range ids {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = s.service.Publish(s.ctx, id)
			}()
		}
		wg.Wait()

		got, err := s.service.GetGroup(s.ctx, details.Group.ID)
		s.Require().NoError(err)
		live := 0
		for _, v := range got.Versions {
			if v.Status == models.StatusPublished {
				live++
			}
		}
		s.Equal(1, live)
	})
}

func (s *ServiceSuite) TestArchive() {
	_, def := s.publishedGroup(models.FormTypeInspections, models.IndustryScopeAll)

	archived, err := s.service.Archive(s.ctx, def.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusArchived, archived.Status)

	_, err = s.service.Archive(s.ctx, def.ID)
	s.True(dErrors.HasReason(err, models.ReasonInvalidTransition))

	_, err = s.service.Resolve(s.ctx, models.Query{FormType: models.FormTypeInspections})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

// =============================================================================
// Group state
// =============================================================================

func (s *ServiceSuite) TestGroupState() {
	s.Run("deactivate needs a future date", func() {
		group, _ := s.publishedGroup(models.FormTypePermit, models.IndustryScopeAll)

		_, err := s.service.Deactivate(s.ctx, group.ID, s.now, "")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("deactivate, reactivate and retire are audited", func() {
		group, _ := s.publishedGroup(models.FormTypePermit, models.IndustryScopeAll)

		g, err := s.service.Deactivate(s.ctx, group.ID, s.now.Add(time.Hour), "maintenance")
		s.Require().NoError(err)
		s.Equal(int64(2), g.Version)

		g, err = s.service.Reactivate(s.ctx, group.ID)
		s.Require().NoError(err)
		s.Nil(g.DeactivatedUntil)
		_, err = s.service.Resolve(s.ctx, models.Query{FormType: models.FormTypePermit})
		s.NoError(err)

		_, err = s.service.Retire(s.ctx, group.ID)
		s.Require().NoError(err)
		_, err = s.service.Retire(s.ctx, group.ID)
		s.True(dErrors.HasReason(err, models.ReasonGroupRetired))
		_, err = s.service.Deactivate(s.ctx, group.ID, s.now.Add(time.Hour), "")
		s.True(dErrors.HasReason(err, models.ReasonGroupRetired))

		s.ElementsMatch([]auditmodels.EventType{
			auditmodels.EventFormDefinitionPublished,
			auditmodels.EventFormGroupDeactivated,
			auditmodels.EventFormGroupReactivated,
			auditmodels.EventFormGroupRetired,
		}, s.auditEvents())
	})

	s.Run("list hides retired groups unless asked", func() {
		group, _ := s.publishedGroup(models.FormTypePermit, models.IndustryScopeAll)
		s.publishedGroup(models.FormTypeRenewal, models.IndustryScopeAll)
		_, err := s.service.Retire(s.ctx, group.ID)
		s.Require().NoError(err)

		groups, err := s.service.ListGroups(s.ctx, models.GroupFilter{})
		s.Require().NoError(err)
		s.Len(groups, 1)
		groups, err = s.service.ListGroups(s.ctx, models.GroupFilter{IncludeRetired: true})
		s.Require().NoError(err)
		s.Len(groups, 2)
		groups, err = s.service.ListGroups(s.ctx, models.GroupFilter{FormType: models.FormTypeRenewal})
		s.Require().NoError(err)
		s.Len(groups, 1)
	})

	s.Run("unknown group", func() {
		_, err := s.service.Reactivate(s.ctx, uuid.New())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}
