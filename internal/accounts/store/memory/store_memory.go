package memory

import (
	"context"
	"slices"
	"sync"

	"bizportal/internal/accounts/models"
	"bizportal/pkg/platform/sentinel"
)

// InMemoryStore keeps accounts and roles in maps. Update holds the write lock
// for the whole read-modify-write.
type InMemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*models.Account
	roles    map[string]*models.Role
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		accounts: make(map[string]*models.Account),
		roles:    make(map[string]*models.Role),
	}
}

func (s *InMemoryStore) Create(_ context.Context, acct *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[acct.ID]; ok {
		return sentinel.ErrConflict
	}
	for _, existing := range s.accounts {
		if existing.Email == acct.Email {
			return sentinel.ErrConflict
		}
	}
	s.accounts[acct.ID] = clone(acct)
	return nil
}

func (s *InMemoryStore) CreateRole(_ context.Context, role *models.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[role.ID]; ok {
		return sentinel.ErrConflict
	}
	r := *role
	s.roles[role.ID] = &r
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(acct), nil
}

func (s *InMemoryStore) FindRole(_ context.Context, id string) (*models.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.roles[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	r := *role
	return &r, nil
}

// FindWithRole returns the account joined with its role row. A dangling role
// reference is reported as not found, like an inner join.
func (s *InMemoryStore) FindWithRole(_ context.Context, id string) (*models.Account, *models.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[id]
	if !ok {
		return nil, nil, sentinel.ErrNotFound
	}
	role, ok := s.roles[acct.Role]
	if !ok {
		return nil, nil, sentinel.ErrNotFound
	}
	r := *role
	return clone(acct), &r, nil
}

func (s *InMemoryStore) Update(_ context.Context, id string, fn func(*models.Account) error) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	working := clone(acct)
	if err := fn(working); err != nil {
		return nil, err
	}
	s.accounts[id] = working
	return clone(working), nil
}

func clone(a *models.Account) *models.Account {
	cp := *a
	cp.AppliedApprovals = slices.Clone(a.AppliedApprovals)
	return &cp
}
