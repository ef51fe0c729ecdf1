package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"bizportal/internal/forms/models"
	"bizportal/internal/forms/service"
	dErrors "bizportal/pkg/domain-errors"
	"bizportal/pkg/platform/httputil"
	"bizportal/pkg/platform/middleware/auth"
)

// Service is the forms API used by the HTTP layer.
type Service interface {
	Resolve(ctx context.Context, q models.Query) (*models.Definition, error)

	CreateGroup(ctx context.Context, cmd service.CreateGroupCommand) (*models.GroupDetails, error)
	ListGroups(ctx context.Context, filter models.GroupFilter) ([]*models.Group, error)
	GetGroup(ctx context.Context, id uuid.UUID) (*models.GroupDetails, error)
	CreateVersion(ctx context.Context, groupID uuid.UUID) (*models.Definition, error)
	Deactivate(ctx context.Context, groupID uuid.UUID, until time.Time, reason string) (*models.Group, error)
	Reactivate(ctx context.Context, groupID uuid.UUID) (*models.Group, error)
	Retire(ctx context.Context, groupID uuid.UUID) (*models.Group, error)

	GetDefinition(ctx context.Context, id uuid.UUID) (*models.Definition, error)
	UpdateDefinition(ctx context.Context, id uuid.UUID, upd models.DefinitionUpdate) (*models.Definition, error)
	SubmitForApproval(ctx context.Context, id uuid.UUID) (*models.Definition, error)
	CancelApproval(ctx context.Context, id uuid.UUID) (*models.Definition, error)
	Publish(ctx context.Context, id uuid.UUID) (*models.Definition, error)
	Archive(ctx context.Context, id uuid.UUID) (*models.Definition, error)
}

type Handler struct {
	service   Service
	validator auth.JWTValidator
	logger    *slog.Logger
}

func New(service Service, validator auth.JWTValidator, logger *slog.Logger) *Handler {
	return &Handler{service: service, validator: validator, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/api/forms/resolve", h.handleResolve)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(h.validator, h.logger))
		r.Use(auth.RequireRoles(h.logger, "admin"))
		r.Route("/api/admin/form-definitions", func(r chi.Router) {
			r.Get("/groups", h.handleListGroups)
			r.Post("/groups", h.handleCreateGroup)
			r.Get("/groups/{groupId}", h.handleGetGroup)
			r.Post("/groups/{groupId}/versions", h.handleCreateVersion)
			r.Post("/groups/{groupId}/deactivate", h.handleDeactivate)
			r.Post("/groups/{groupId}/reactivate", h.groupAction(h.service.Reactivate))
			r.Post("/groups/{groupId}/retire", h.groupAction(h.service.Retire))

			r.Get("/{definitionId}", h.definitionAction(h.service.GetDefinition))
			r.Put("/{definitionId}", h.handleUpdateDefinition)
			r.Post("/{definitionId}/submit-for-approval", h.definitionAction(h.service.SubmitForApproval))
			r.Post("/{definitionId}/cancel-approval", h.definitionAction(h.service.CancelApproval))
			r.Post("/{definitionId}/publish", h.definitionAction(h.service.Publish))
			r.Post("/{definitionId}/archive", h.definitionAction(h.service.Archive))
		})
	})
}

// definitionResponse is the public view of a resolved definition.
type definitionResponse struct {
	ID                uuid.UUID        `json:"id"`
	FormType          models.FormType  `json:"formType"`
	Version           string           `json:"version"`
	Name              string           `json:"name"`
	Sections          []models.Section `json:"sections"`
	BusinessTypes     []string         `json:"businessTypes"`
	JurisdictionCodes []string         `json:"jurisdictionCodes"`
	EffectiveFrom     *time.Time       `json:"effectiveFrom,omitempty"`
	EffectiveTo       *time.Time       `json:"effectiveTo,omitempty"`
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("formType") == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "formType is required"))
		return
	}
	def, err := h.service.Resolve(r.Context(), models.Query{
		FormType:         models.FormType(q.Get("formType")),
		BusinessType:     q.Get("businessType"),
		JurisdictionCode: q.Get("lgu"),
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, definitionResponse{
		ID:                def.ID,
		FormType:          def.FormType,
		Version:           def.Version,
		Name:              def.Name,
		Sections:          def.Sections,
		BusinessTypes:     def.BusinessTypes,
		JurisdictionCodes: def.JurisdictionCodes,
		EffectiveFrom:     def.EffectiveFrom,
		EffectiveTo:       def.EffectiveTo,
	})
}

type createGroupRequest struct {
	FormType      string `json:"formType"`
	IndustryScope string `json:"industryScope"`
	Name          string `json:"name"`
}

func (h *Handler) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var body createGroupRequest
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.WriteError(w, err)
		return
	}
	details, err := h.service.CreateGroup(r.Context(), service.CreateGroupCommand{
		FormType:      models.FormType(body.FormType),
		IndustryScope: body.IndustryScope,
		Name:          body.Name,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, details)
}

func (h *Handler) handleListGroups(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	groups, err := h.service.ListGroups(r.Context(), models.GroupFilter{
		FormType:       models.FormType(q.Get("formType")),
		IncludeRetired: q.Get("includeRetired") == "true",
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if groups == nil {
		groups = []*models.Group{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

func (h *Handler) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "groupId")
	if !ok {
		return
	}
	details, err := h.service.GetGroup(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, details)
}

func (h *Handler) handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "groupId")
	if !ok {
		return
	}
	def, err := h.service.CreateVersion(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, def)
}

type deactivateRequest struct {
	DeactivatedUntil *time.Time `json:"deactivatedUntil"`
	Reason           string     `json:"reason"`
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "groupId")
	if !ok {
		return
	}
	var body deactivateRequest
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if body.DeactivatedUntil == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "deactivatedUntil is required"))
		return
	}
	group, err := h.service.Deactivate(r.Context(), id, *body.DeactivatedUntil, body.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, group)
}

func (h *Handler) groupAction(fn func(context.Context, uuid.UUID) (*models.Group, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "groupId")
		if !ok {
			return
		}
		group, err := fn(r.Context(), id)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, group)
	}
}

type updateDefinitionRequest struct {
	Name              *string           `json:"name"`
	BusinessTypes     *[]string         `json:"businessTypes"`
	JurisdictionCodes *[]string         `json:"jurisdictionCodes"`
	Sections          *[]models.Section `json:"sections"`
	EffectiveFrom     *time.Time        `json:"effectiveFrom"`
	EffectiveTo       *time.Time        `json:"effectiveTo"`
	ClearEffectiveTo  bool              `json:"clearEffectiveTo"`
}

func (h *Handler) handleUpdateDefinition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "definitionId")
	if !ok {
		return
	}
	var body updateDefinitionRequest
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.WriteError(w, err)
		return
	}
	def, err := h.service.UpdateDefinition(r.Context(), id, models.DefinitionUpdate{
		Name:              body.Name,
		BusinessTypes:     body.BusinessTypes,
		JurisdictionCodes: body.JurisdictionCodes,
		Sections:          body.Sections,
		EffectiveFrom:     body.EffectiveFrom,
		EffectiveTo:       body.EffectiveTo,
		ClearEffectiveTo:  body.ClearEffectiveTo,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, def)
}

func (h *Handler) definitionAction(fn func(context.Context, uuid.UUID) (*models.Definition, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "definitionId")
		if !ok {
			return
		}
		def, err := fn(r.Context(), id)
		if err != nil {
			h.logger.WarnContext(r.Context(), "form definition request failed",
				"error", err,
				"definition_id", id,
				"path", r.URL.Path,
			)
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, def)
	}
}

func pathID(w http.ResponseWriter, r *http.Request, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, key))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid "+key))
		return uuid.Nil, false
	}
	return id, true
}
