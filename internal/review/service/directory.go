package service

import (
	"context"
	"errors"
	"log/slog"

	"bizportal/internal/platform/errreport"
	reviewmetrics "bizportal/internal/review/metrics"
	"bizportal/internal/review/models"
	"bizportal/internal/review/ports"
)

// Directory resolves reviewer identities. It never fails: when both lookup
// paths fail the reviewer is returned with role "unknown" and the failure is
// reported.
type Directory struct {
	port     ports.ReviewerPort
	reporter errreport.Reporter
	logger   *slog.Logger
	metrics  *reviewmetrics.Metrics
}

func NewDirectory(port ports.ReviewerPort, reporter errreport.Reporter, logger *slog.Logger, metrics *reviewmetrics.Metrics) *Directory {
	return &Directory{port: port, reporter: reporter, logger: logger, metrics: metrics}
}

func (d *Directory) Resolve(ctx context.Context, id string) *models.Reviewer {
	reviewer, primaryErr := d.port.ReviewerWithRole(ctx, id)
	if primaryErr == nil {
		d.metrics.IncReviewerLookup("primary")
		return reviewer
	}
	d.logger.WarnContext(ctx, "joined reviewer lookup failed, falling back",
		"reviewer_id", id,
		"error", primaryErr,
	)

	reviewer, fallbackErr := d.port.Reviewer(ctx, id)
	if fallbackErr == nil {
		d.metrics.IncReviewerLookup("fallback")
		return reviewer
	}

	d.metrics.IncReviewerLookup("unknown")
	d.reporter.Report(ctx, "review.resolve_reviewer", errors.Join(primaryErr, fallbackErr),
		"reviewer_id", id,
	)
	return &models.Reviewer{ID: id, Role: models.RoleUnknown}
}
