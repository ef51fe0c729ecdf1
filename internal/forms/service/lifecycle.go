package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	auditmodels "bizportal/internal/audit/models"
	"bizportal/internal/forms/models"
	dErrors "bizportal/pkg/domain-errors"
	"bizportal/pkg/platform/sentinel"
	pstrings "bizportal/pkg/platform/strings"
	"bizportal/pkg/requestcontext"
)

// CreateGroupCommand creates a form group and its first draft version.
type CreateGroupCommand struct {
	FormType      models.FormType
	IndustryScope string
	Name          string
}

func (s *Service) CreateGroup(ctx context.Context, cmd CreateGroupCommand) (*models.GroupDetails, error) {
	ctx, span := s.tracer.Start(ctx, "forms.CreateGroup", trace.WithAttributes(
		attribute.String("form_type", string(cmd.FormType)),
	))
	defer span.End()

	if !cmd.FormType.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown form type")
	}
	scope := strings.TrimSpace(cmd.IndustryScope)
	if scope == "" {
		scope = models.IndustryScopeAll
	}
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		name = cmd.FormType.Label() + " - " + scope
	}

	now := requestcontext.Now(ctx)
	group := &models.Group{
		ID:            uuid.New(),
		FormType:      cmd.FormType,
		IndustryScope: scope,
		Name:          name,
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}
	first := s.newDraft(ctx, group, models.NextVersion(nil, now.Year()), now)
	if err := s.store.CreateGroup(ctx, group, first); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "a form group with this type and industry already exists").WithReason(models.ReasonGroupExists)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create form group")
	}
	s.metrics.IncLifecycle("group_created")
	s.logger.InfoContext(ctx, "form group created",
		"group_id", group.ID,
		"form_type", group.FormType,
		"industry_scope", group.IndustryScope,
	)
	return &models.GroupDetails{Group: group, Versions: []*models.Definition{first}}, nil
}

func (s *Service) ListGroups(ctx context.Context, filter models.GroupFilter) ([]*models.Group, error) {
	if filter.FormType != "" && !filter.FormType.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown form type")
	}
	groups, err := s.store.ListGroups(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list form groups")
	}
	return groups, nil
}

func (s *Service) GetGroup(ctx context.Context, id uuid.UUID) (*models.GroupDetails, error) {
	group, err := s.store.FindGroup(ctx, id)
	if err != nil {
		return nil, storeErr(err, "form group")
	}
	versions, err := s.store.ListDefinitions(ctx, id)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list form versions")
	}
	return &models.GroupDetails{Group: group, Versions: versions}, nil
}

// CreateVersion adds a new draft to the group numbered after the highest
// version of the current year.
func (s *Service) CreateVersion(ctx context.Context, groupID uuid.UUID) (*models.Definition, error) {
	ctx, span := s.tracer.Start(ctx, "forms.CreateVersion", trace.WithAttributes(
		attribute.String("group_id", groupID.String()),
	))
	defer span.End()

	group, err := s.store.FindGroup(ctx, groupID)
	if err != nil {
		return nil, storeErr(err, "form group")
	}
	if group.IsRetired() {
		return nil, dErrors.New(dErrors.CodeConflict, "form group is retired").WithReason(models.ReasonGroupRetired)
	}

	now := requestcontext.Now(ctx)
	for attempt := 0; ; attempt++ {
		existing, err := s.store.ListDefinitions(ctx, groupID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list form versions")
		}
		versions := make([]string, 0, len(existing))
		for _, d := range existing {
			versions = append(versions, d.Version)
		}
		def := s.newDraft(ctx, group, models.NextVersion(versions, now.Year()), now)
		err = s.store.CreateDefinition(ctx, def)
		if err == nil {
			s.metrics.IncLifecycle("version_created")
			return def, nil
		}
		if !errors.Is(err, sentinel.ErrConflict) || attempt >= s.maxRetries {
			return nil, storeErr(err, "form version")
		}
	}
}

func (s *Service) GetDefinition(ctx context.Context, id uuid.UUID) (*models.Definition, error) {
	def, err := s.store.FindDefinition(ctx, id)
	if err != nil {
		return nil, storeErr(err, "form definition")
	}
	return def, nil
}

// UpdateDefinition edits a draft. Targeting values are trimmed and
// deduplicated; jurisdiction codes are upper-cased.
func (s *Service) UpdateDefinition(ctx context.Context, id uuid.UUID, upd models.DefinitionUpdate) (*models.Definition, error) {
	ctx, span := s.tracer.Start(ctx, "forms.UpdateDefinition", trace.WithAttributes(
		attribute.String("definition_id", id.String()),
	))
	defer span.End()

	if err := validateSections(upd.Sections); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	def, err := s.store.ExecuteDefinition(ctx, id,
		func(d *models.Definition) error {
			if err := d.CanEdit(); err != nil {
				return err
			}
			from, to := d.EffectiveFrom, d.EffectiveTo
			if upd.EffectiveFrom != nil {
				from = upd.EffectiveFrom
			}
			if upd.ClearEffectiveTo {
				to = nil
			} else if upd.EffectiveTo != nil {
				to = upd.EffectiveTo
			}
			if from != nil && to != nil && !to.After(*from) {
				return dErrors.New(dErrors.CodeValidation, "effectiveTo must be after effectiveFrom")
			}
			return nil
		},
		func(d *models.Definition) {
			applyUpdate(d, upd)
			d.UpdatedAt = now
		},
	)
	if err != nil {
		return nil, storeErr(err, "form definition")
	}
	return def, nil
}

// SubmitForApproval moves a draft with sections to pending_approval.
func (s *Service) SubmitForApproval(ctx context.Context, id uuid.UUID) (*models.Definition, error) {
	return s.transition(ctx, "forms.SubmitForApproval", id,
		(*models.Definition).CanSubmitForApproval, models.StatusPendingApproval)
}

// CancelApproval returns a pending definition to draft.
func (s *Service) CancelApproval(ctx context.Context, id uuid.UUID) (*models.Definition, error) {
	return s.transition(ctx, "forms.CancelApproval", id,
		(*models.Definition).CanCancelApproval, models.StatusDraft)
}

// Archive retires a published or draft definition.
func (s *Service) Archive(ctx context.Context, id uuid.UUID) (*models.Definition, error) {
	return s.transition(ctx, "forms.Archive", id,
		(*models.Definition).CanArchive, models.StatusArchived)
}

func (s *Service) transition(ctx context.Context, op string, id uuid.UUID, check func(*models.Definition) error, to models.DefinitionStatus) (*models.Definition, error) {
	ctx, span := s.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("definition_id", id.String()),
	))
	defer span.End()

	now := requestcontext.Now(ctx)
	var from models.DefinitionStatus
	def, err := s.store.ExecuteDefinition(ctx, id, check, func(d *models.Definition) {
		from = d.Status
		d.ApplyStatus(to, now)
	})
	if err != nil {
		return nil, storeErr(err, "form definition")
	}
	s.metrics.IncLifecycle(string(to))
	s.logger.InfoContext(ctx, "form definition status changed",
		"definition_id", def.ID,
		"group_id", def.GroupID,
		"from", from,
		"to", to,
	)
	return def, nil
}

// Publish makes a definition the live version of its group. The previous
// published version is archived in the same store transaction.
func (s *Service) Publish(ctx context.Context, id uuid.UUID) (*models.Definition, error) {
	ctx, span := s.tracer.Start(ctx, "forms.Publish", trace.WithAttributes(
		attribute.String("definition_id", id.String()),
	))
	defer span.End()

	now := requestcontext.Now(ctx)
	var from models.DefinitionStatus
	def, superseded, err := s.store.Publish(ctx, id,
		(*models.Definition).CanPublish,
		func(d *models.Definition) {
			from = d.Status
			d.ApplyPublish(now)
		},
	)
	if err != nil {
		return nil, storeErr(err, "form definition")
	}
	supersededIDs := make([]any, 0, len(superseded))
	for _, d := range superseded {
		supersededIDs = append(supersededIDs, d.ID.String())
	}
	s.metrics.IncLifecycle("published")
	s.logger.InfoContext(ctx, "form_definition_published",
		"definition_id", def.ID,
		"group_id", def.GroupID,
		"version", def.Version,
		"superseded", len(superseded),
	)
	s.audit(ctx, auditmodels.Input{
		UserID:       requestcontext.ActorID(ctx),
		EventType:    auditmodels.EventFormDefinitionPublished,
		FieldChanged: "status",
		OldValue:     string(from),
		NewValue:     string(models.StatusPublished),
		Role:         requestcontext.ActorRole(ctx),
		Metadata: map[string]any{
			"definitionId":  def.ID.String(),
			"groupId":       def.GroupID.String(),
			"formType":      string(def.FormType),
			"version":       def.Version,
			"supersededIds": supersededIDs,
		},
	})
	return def, nil
}

// Deactivate hides the group's published form from applicants until the
// given time.
func (s *Service) Deactivate(ctx context.Context, groupID uuid.UUID, until time.Time, reason string) (*models.Group, error) {
	ctx, span := s.tracer.Start(ctx, "forms.Deactivate", trace.WithAttributes(
		attribute.String("group_id", groupID.String()),
	))
	defer span.End()

	now := requestcontext.Now(ctx)
	reason = strings.TrimSpace(reason)
	var previous string
	group, err := s.store.ExecuteGroup(ctx, groupID,
		func(g *models.Group) error {
			return g.CanDeactivate(until, now)
		},
		func(g *models.Group) {
			previous = formatTime(g.DeactivatedUntil)
			g.ApplyDeactivation(until, reason, now)
		},
	)
	if err != nil {
		return nil, storeErr(err, "form group")
	}
	s.groupChanged(ctx, group, auditmodels.EventFormGroupDeactivated, "deactivatedUntil", previous, formatTime(group.DeactivatedUntil))
	return group, nil
}

// Reactivate clears any deactivation window.
func (s *Service) Reactivate(ctx context.Context, groupID uuid.UUID) (*models.Group, error) {
	ctx, span := s.tracer.Start(ctx, "forms.Reactivate", trace.WithAttributes(
		attribute.String("group_id", groupID.String()),
	))
	defer span.End()

	now := requestcontext.Now(ctx)
	var previous string
	group, err := s.store.ExecuteGroup(ctx, groupID,
		func(*models.Group) error { return nil },
		func(g *models.Group) {
			previous = formatTime(g.DeactivatedUntil)
			g.ApplyReactivation(now)
		},
	)
	if err != nil {
		return nil, storeErr(err, "form group")
	}
	s.groupChanged(ctx, group, auditmodels.EventFormGroupReactivated, "deactivatedUntil", previous, "")
	return group, nil
}

// Retire soft-deletes a group. Its definitions stop resolving and the
// (type, scope) pair becomes free for a new group.
func (s *Service) Retire(ctx context.Context, groupID uuid.UUID) (*models.Group, error) {
	ctx, span := s.tracer.Start(ctx, "forms.Retire", trace.WithAttributes(
		attribute.String("group_id", groupID.String()),
	))
	defer span.End()

	now := requestcontext.Now(ctx)
	group, err := s.store.ExecuteGroup(ctx, groupID,
		(*models.Group).CanRetire,
		func(g *models.Group) {
			g.ApplyRetirement(now)
		},
	)
	if err != nil {
		return nil, storeErr(err, "form group")
	}
	s.groupChanged(ctx, group, auditmodels.EventFormGroupRetired, "retiredAt", "", formatTime(group.RetiredAt))
	return group, nil
}

func (s *Service) groupChanged(ctx context.Context, g *models.Group, event auditmodels.EventType, field, oldValue, newValue string) {
	s.metrics.IncLifecycle(string(event))
	s.logger.InfoContext(ctx, string(event),
		"group_id", g.ID,
		"form_type", g.FormType,
		"industry_scope", g.IndustryScope,
	)
	s.audit(ctx, auditmodels.Input{
		UserID:       requestcontext.ActorID(ctx),
		EventType:    event,
		FieldChanged: field,
		OldValue:     oldValue,
		NewValue:     newValue,
		Role:         requestcontext.ActorRole(ctx),
		Metadata: map[string]any{
			"groupId":       g.ID.String(),
			"formType":      string(g.FormType),
			"industryScope": g.IndustryScope,
			"reason":        g.DeactivateReason,
		},
	})
}

func (s *Service) newDraft(ctx context.Context, g *models.Group, version string, now time.Time) *models.Definition {
	return &models.Definition{
		ID:            uuid.New(),
		GroupID:       g.ID,
		FormType:      g.FormType,
		Version:       version,
		Name:          g.Name,
		Status:        models.StatusDraft,
		BusinessTypes: g.BusinessTypes(),
		CreatedBy:     requestcontext.ActorID(ctx),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func applyUpdate(d *models.Definition, upd models.DefinitionUpdate) {
	if upd.Name != nil {
		d.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.BusinessTypes != nil {
		d.BusinessTypes = pstrings.DedupeAndTrim(*upd.BusinessTypes)
	}
	if upd.JurisdictionCodes != nil {
		d.JurisdictionCodes = pstrings.DedupeAndTrimUpper(*upd.JurisdictionCodes)
	}
	if upd.Sections != nil {
		d.Sections = *upd.Sections
	}
	if upd.EffectiveFrom != nil {
		from := upd.EffectiveFrom.UTC()
		d.EffectiveFrom = &from
	}
	if upd.ClearEffectiveTo {
		d.EffectiveTo = nil
	} else if upd.EffectiveTo != nil {
		to := upd.EffectiveTo.UTC()
		d.EffectiveTo = &to
	}
}

func validateSections(sections *[]models.Section) error {
	if sections == nil {
		return nil
	}
	for _, sec := range *sections {
		if strings.TrimSpace(sec.Category) == "" {
			return dErrors.New(dErrors.CodeValidation, "section category is required")
		}
		for _, item := range sec.Items {
			if strings.TrimSpace(item.Label) == "" {
				return dErrors.New(dErrors.CodeValidation, "item label is required")
			}
		}
	}
	return nil
}

func storeErr(err error, what string) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, what+" not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, what+" changed concurrently")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save "+what)
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
