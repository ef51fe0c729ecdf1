package service

import (
	"context"
	"errors"
	"strings"

	"bizportal/internal/approval/models"
	dErrors "bizportal/pkg/domain-errors"
	"bizportal/pkg/platform/sentinel"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func (s *Service) GetRequest(ctx context.Context, approvalID string) (*models.Request, error) {
	ctx, span := s.tracer.Start(ctx, "approval.GetRequest")
	defer span.End()
	return s.load(ctx, strings.TrimSpace(approvalID))
}

// ListRequests returns one page of requests, newest first.
func (s *Service) ListRequests(ctx context.Context, filter models.Filter) (*models.Page, error) {
	ctx, span := s.tracer.Start(ctx, "approval.ListRequests")
	defer span.End()

	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown status filter")
	}
	if filter.RequestType != "" && !filter.RequestType.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown request type filter").WithReason(models.ReasonInvalidRequestType)
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultPageSize
	case filter.Limit > maxPageSize:
		filter.Limit = maxPageSize
	}

	items, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list approval requests")
	}
	if items == nil {
		items = []*models.Request{}
	}
	return &models.Page{Items: items, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}

func (s *Service) load(ctx context.Context, approvalID string) (*models.Request, error) {
	if approvalID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "approval id is required")
	}
	req, err := s.store.FindByApprovalID(ctx, approvalID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "approval request not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load approval request")
	}
	return req, nil
}
