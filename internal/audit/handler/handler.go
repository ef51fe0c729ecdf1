package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"bizportal/internal/audit/models"
	dErrors "bizportal/pkg/domain-errors"
	"bizportal/pkg/platform/httputil"
	"bizportal/pkg/platform/middleware/auth"
)

// Service is the audit surface exposed over HTTP.
type Service interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Entry, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Entry, error)
	ListRecent(ctx context.Context, limit int) ([]*models.Entry, error)
	Verify(ctx context.Context, id uuid.UUID) (*models.Verification, error)
	VerifyRecent(ctx context.Context, limit int) (*models.VerificationStats, error)
}

// Handler serves read-only audit trail endpoints to administrators.
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
		r.Use(auth.RequireRoles(h.logger, "admin"))
		r.Get("/api/admin/audit", h.handleList)
		r.Get("/api/admin/audit/verify", h.handleVerifyRecent)
		r.Get("/api/admin/audit/{entryId}", h.handleGet)
		r.Get("/api/admin/audit/{entryId}/verify", h.handleVerify)
	})
}

type listResponse struct {
	Entries []*models.Entry `json:"entries"`
	Total   int             `json:"total"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var (
		entries []*models.Entry
		err     error
	)
	if userID := r.URL.Query().Get("userId"); userID != "" {
		entries, err = h.service.ListByUser(ctx, userID)
	} else {
		entries, err = h.service.ListRecent(ctx, queryInt(r, "limit"))
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list audit entries", "error", err)
		httputil.WriteError(w, err)
		return
	}
	if entries == nil {
		entries = []*models.Entry{}
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse{Entries: entries, Total: len(entries)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := entryID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entry, err := h.service.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	id, err := entryID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	result, err := h.service.Verify(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleVerifyRecent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := h.service.VerifyRecent(ctx, queryInt(r, "limit"))
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to verify audit entries", "error", err)
		httputil.WriteError(w, err)
		return
	}
	if stats.Tampered > 0 {
		h.logger.WarnContext(ctx, "tampered audit entries detected",
			"tampered", stats.Tampered,
			"total", stats.Total,
		)
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func entryID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "entryId"))
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeBadRequest, "invalid audit entry id")
	}
	return id, nil
}

// queryInt returns 0 for missing or malformed values; services apply defaults.
func queryInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return v
}
