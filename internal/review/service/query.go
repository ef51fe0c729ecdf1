package service

import (
	"context"
	"strings"

	"bizportal/internal/review/models"
	dErrors "bizportal/pkg/domain-errors"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

func (s *Service) GetApplication(ctx context.Context, applicationID string) (*models.View, error) {
	ctx, span := s.tracer.Start(ctx, "review.GetApplication")
	defer span.End()

	applicationID = strings.TrimSpace(applicationID)
	if applicationID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "application id is required")
	}
	profile, err := s.loadProfile(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	return models.NewView(profile, profile.Find(applicationID)), nil
}

// ListApplications returns applications that have a status, most recently
// submitted first.
func (s *Service) ListApplications(ctx context.Context, filter models.Filter) (*models.Page, error) {
	ctx, span := s.tracer.Start(ctx, "review.ListApplications")
	defer span.End()

	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown status filter")
	}
	filter.ReferenceNumber = strings.TrimSpace(filter.ReferenceNumber)
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
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list applications")
	}
	if items == nil {
		items = []*models.View{}
	}
	return &models.Page{Items: items, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}
