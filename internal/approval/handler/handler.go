package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"bizportal/internal/approval/models"
	"bizportal/internal/approval/service"
	"bizportal/pkg/platform/httputil"
	"bizportal/pkg/platform/middleware/auth"
	"bizportal/pkg/requestcontext"
)

// Service is the approval workflow as used by the HTTP layer.
type Service interface {
	CreateRequest(ctx context.Context, cmd service.CreateCommand) (*models.Request, error)
	CastVote(ctx context.Context, cmd service.VoteCommand) (*models.Request, error)
	GetRequest(ctx context.Context, approvalID string) (*models.Request, error)
	ListRequests(ctx context.Context, filter models.Filter) (*models.Page, error)
}

type Handler struct {
	service     Service
	validator   auth.JWTValidator
	logger      *slog.Logger
	createLimit func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithCreateLimit guards request creation, typically with a per-admin rate limit.
func WithCreateLimit(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.createLimit = mw
	}
}

func New(service Service, validator auth.JWTValidator, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{service: service, validator: validator, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(h.validator, h.logger))
		r.Use(auth.RequireRoles(h.logger, "admin"))
		create := http.Handler(http.HandlerFunc(h.handleCreate))
		if h.createLimit != nil {
			create = h.createLimit(create)
		}
		r.Method(http.MethodPost, "/api/admin/approvals", create)
		r.Get("/api/admin/approvals", h.handleList)
		r.Get("/api/admin/approvals/pending", h.handleListPending)
		r.Get("/api/admin/approvals/{approvalId}", h.handleGet)
		r.Post("/api/admin/approvals/{approvalId}/approve", h.handleVote)
	})
}

// createRequest has no quorum field; the quorum comes from configuration.
type createRequest struct {
	RequestType    string         `json:"requestType"`
	UserID         string         `json:"userId"`
	RequestDetails map[string]any `json:"requestDetails"`
}

type voteRequest struct {
	Approved *bool  `json:"approved"`
	Comment  string `json:"comment"`
}

// requestResponse is the wire form of a request. Staged secrets never leave
// the service.
type requestResponse struct {
	ID                string         `json:"id"`
	ApprovalID        string         `json:"approvalId"`
	RequestType       string         `json:"requestType"`
	UserID            string         `json:"userId"`
	RequestedBy       string         `json:"requestedBy"`
	RequestDetails    map[string]any `json:"requestDetails"`
	Status            string         `json:"status"`
	Approvals         []models.Vote  `json:"approvals"`
	RequiredApprovals int            `json:"requiredApprovals"`
	Metadata          map[string]any `json:"metadata"`
	AppliedAt         *time.Time     `json:"appliedAt,omitempty"`
	ApplyError        string         `json:"applyError,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

type listResponse struct {
	Requests []requestResponse `json:"requests"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	Limit    int               `json:"limit"`
}

func toResponse(r *models.Request) requestResponse {
	approvals := r.Approvals
	if approvals == nil {
		approvals = []models.Vote{}
	}
	return requestResponse{
		ID:                r.ID.String(),
		ApprovalID:        r.ApprovalID,
		RequestType:       string(r.RequestType),
		UserID:            r.UserID,
		RequestedBy:       r.RequestedBy,
		RequestDetails:    r.RequestDetails,
		Status:            string(r.Status),
		Approvals:         approvals,
		RequiredApprovals: r.RequiredApprovals,
		Metadata:          r.PublicMetadata(),
		AppliedAt:         r.AppliedAt,
		ApplyError:        r.ApplyError,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body createRequest
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := h.service.CreateRequest(ctx, service.CreateCommand{
		RequestType: body.RequestType,
		UserID:      body.UserID,
		RequestedBy: requestcontext.ActorID(ctx),
		Details:     body.RequestDetails,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "approval request refused",
			"error", err,
			"actor_id", requestcontext.ActorID(ctx),
			"request_type", body.RequestType,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toResponse(req))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.list(w, r, models.Filter{
		Status:      models.Status(q.Get("status")),
		RequestType: models.RequestType(q.Get("requestType")),
		UserID:      q.Get("userId"),
		RequestedBy: q.Get("requestedBy"),
		Page:        queryInt(r, "page"),
		Limit:       queryInt(r, "limit"),
	})
}

func (h *Handler) handleListPending(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, models.Filter{
		Status: models.StatusPending,
		Page:   queryInt(r, "page"),
		Limit:  queryInt(r, "limit"),
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, filter models.Filter) {
	page, err := h.service.ListRequests(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	resp := listResponse{
		Requests: make([]requestResponse, 0, len(page.Items)),
		Total:    page.Total,
		Page:     page.Page,
		Limit:    page.Limit,
	}
	for _, item := range page.Items {
		resp.Requests = append(resp.Requests, toResponse(item))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	req, err := h.service.GetRequest(r.Context(), chi.URLParam(r, "approvalId"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(req))
}

func (h *Handler) handleVote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body voteRequest
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if body.Approved == nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{
			Error:            "validation_error",
			ErrorDescription: "approved is required",
		})
		return
	}
	req, err := h.service.CastVote(ctx, service.VoteCommand{
		ApprovalID: chi.URLParam(r, "approvalId"),
		AdminID:    requestcontext.ActorID(ctx),
		Approved:   *body.Approved,
		Comment:    body.Comment,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "approval vote refused",
			"error", err,
			"actor_id", requestcontext.ActorID(ctx),
			"approval_id", chi.URLParam(r, "approvalId"),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(req))
}

func queryInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return v
}
