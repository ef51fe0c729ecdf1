package adapters

import (
	"context"
	"fmt"

	accountmodels "bizportal/internal/accounts/models"
	"bizportal/internal/review/models"
	"bizportal/internal/review/ports"
)

// AccountStore is the slice of the accounts store the adapter reads.
type AccountStore interface {
	FindWithRole(ctx context.Context, id string) (*accountmodels.Account, *accountmodels.Role, error)
	FindByID(ctx context.Context, id string) (*accountmodels.Account, error)
	FindRole(ctx context.Context, id string) (*accountmodels.Role, error)
}

// AccountsAdapter is the in-process implementation of ports.ReviewerPort.
type AccountsAdapter struct {
	store AccountStore
}

func NewAccountsAdapter(store AccountStore) ports.ReviewerPort {
	return &AccountsAdapter{store: store}
}

func (a *AccountsAdapter) ReviewerWithRole(ctx context.Context, id string) (*models.Reviewer, error) {
	acct, role, err := a.store.FindWithRole(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("joined reviewer lookup: %w", err)
	}
	return toReviewer(acct, role), nil
}

func (a *AccountsAdapter) Reviewer(ctx context.Context, id string) (*models.Reviewer, error) {
	acct, err := a.store.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reviewer account lookup: %w", err)
	}
	if acct.Role == "" {
		return nil, fmt.Errorf("reviewer %s has no role", id)
	}
	role, err := a.store.FindRole(ctx, acct.Role)
	if err != nil {
		return nil, fmt.Errorf("reviewer role lookup: %w", err)
	}
	return toReviewer(acct, role), nil
}

func toReviewer(acct *accountmodels.Account, role *accountmodels.Role) *models.Reviewer {
	return &models.Reviewer{
		ID:        acct.ID,
		FirstName: acct.FirstName,
		LastName:  acct.LastName,
		Email:     acct.Email,
		Role:      role.Slug,
	}
}
