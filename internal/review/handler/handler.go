package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"bizportal/internal/review/models"
	"bizportal/internal/review/service"
	"bizportal/pkg/platform/httputil"
	"bizportal/pkg/platform/middleware/auth"
	"bizportal/pkg/requestcontext"
)

// Service is the review workflow as used by the HTTP layer.
type Service interface {
	Submit(ctx context.Context, applicationID, ownerID string) (*models.View, error)
	StartReview(ctx context.Context, applicationID, reviewerID string) (*models.View, error)
	Review(ctx context.Context, cmd service.ReviewCommand) (*models.View, error)
	GetApplication(ctx context.Context, applicationID string) (*models.View, error)
	ListApplications(ctx context.Context, filter models.Filter) (*models.Page, error)
}

// Handler serves the LGU officer permit application endpoints and the owner
// submit endpoint.
type Handler struct {
	service   Service
	validator auth.JWTValidator
	logger    *slog.Logger
}

func New(service Service, validator auth.JWTValidator, logger *slog.Logger) *Handler {
	return &Handler{service: service, validator: validator, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(h.validator, h.logger))
		r.Use(auth.RequireRoles(h.logger, models.OfficerRoles...))
		r.Get("/api/lgu-officer/permit-applications", h.handleList)
		r.Get("/api/lgu-officer/permit-applications/{applicationId}", h.handleGet)
		r.Post("/api/lgu-officer/permit-applications/{applicationId}/start-review", h.handleStartReview)
		r.Post("/api/lgu-officer/permit-applications/{applicationId}/review", h.handleReview)
	})
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(h.validator, h.logger))
		r.Use(auth.RequireRoles(h.logger, models.RoleBusinessOwner))
		r.Post("/api/business/permit-applications/{applicationId}/submit", h.handleSubmit)
	})
}

type reviewRequest struct {
	Decision        string `json:"decision"`
	Comments        string `json:"comments"`
	RejectionReason string `json:"rejectionReason"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.service.ListApplications(r.Context(), models.Filter{
		Status:          models.Status(q.Get("status")),
		ReferenceNumber: q.Get("applicationReferenceNumber"),
		Page:            queryInt(r, "page"),
		Limit:           queryInt(r, "limit"),
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetApplication(r.Context(), chi.URLParam(r, "applicationId"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view, err := h.service.Submit(ctx, chi.URLParam(r, "applicationId"), requestcontext.ActorID(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "submit refused",
			"error", err,
			"application_id", chi.URLParam(r, "applicationId"),
			"user_id", requestcontext.ActorID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) handleStartReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view, err := h.service.StartReview(ctx, chi.URLParam(r, "applicationId"), requestcontext.ActorID(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "start review failed",
			"error", err,
			"application_id", chi.URLParam(r, "applicationId"),
			"officer_id", requestcontext.ActorID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) handleReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body reviewRequest
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.WriteError(w, err)
		return
	}
	view, err := h.service.Review(ctx, service.ReviewCommand{
		ApplicationID:   chi.URLParam(r, "applicationId"),
		ReviewerID:      requestcontext.ActorID(ctx),
		Decision:        body.Decision,
		Comments:        body.Comments,
		RejectionReason: body.RejectionReason,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "review refused",
			"error", err,
			"application_id", chi.URLParam(r, "applicationId"),
			"officer_id", requestcontext.ActorID(ctx),
			"decision", body.Decision,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func queryInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return v
}
