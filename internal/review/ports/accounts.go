package ports

import (
	"context"

	"bizportal/internal/review/models"
)

// ReviewerPort resolves officer identities without depending on the accounts
// module's storage.
type ReviewerPort interface {
	// ReviewerWithRole is the primary path: one joined account and role lookup.
	ReviewerWithRole(ctx context.Context, id string) (*models.Reviewer, error)

	// Reviewer is the secondary path: the account, then its role by id.
	Reviewer(ctx context.Context, id string) (*models.Reviewer, error)
}
