package memory

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"bizportal/internal/review/models"
	"bizportal/pkg/platform/sentinel"
)

// InMemoryStore keeps business profiles with a business id index. Profiles
// are copied on the way in and out.
type InMemoryStore struct {
	mu         sync.RWMutex
	profiles   map[uuid.UUID]*models.Profile
	byBusiness map[string]uuid.UUID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		profiles:   make(map[uuid.UUID]*models.Profile),
		byBusiness: make(map[string]uuid.UUID),
	}
}

// Create stores a new profile. A business id already owned by another
// profile is a conflict.
func (s *InMemoryStore) Create(_ context.Context, p *models.Profile) error {
	cp, err := clone(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.ID]; ok {
		return sentinel.ErrConflict
	}
	for _, id := range p.BusinessIDs() {
		if _, ok := s.byBusiness[id]; ok {
			return sentinel.ErrConflict
		}
	}
	s.profiles[p.ID] = cp
	for _, id := range p.BusinessIDs() {
		s.byBusiness[id] = p.ID
	}
	return nil
}

func (s *InMemoryStore) FindByBusinessID(_ context.Context, businessID string) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byBusiness[businessID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(s.profiles[id])
}

func (s *InMemoryStore) Update(_ context.Context, p *models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.profiles[p.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != p.Version {
		return sentinel.ErrConflict
	}
	for _, id := range p.BusinessIDs() {
		if owner, ok := s.byBusiness[id]; ok && owner != p.ID {
			return sentinel.ErrConflict
		}
	}
	next, err := clone(p)
	if err != nil {
		return err
	}
	next.Version++
	for _, id := range current.BusinessIDs() {
		delete(s.byBusiness, id)
	}
	for _, id := range next.BusinessIDs() {
		s.byBusiness[id] = p.ID
	}
	s.profiles[p.ID] = next
	p.Version = next.Version
	return nil
}

func (s *InMemoryStore) List(_ context.Context, filter models.Filter) ([]*models.View, int, error) {
	s.mu.RLock()
	var views []*models.View
	for _, stored := range s.profiles {
		if !slices.ContainsFunc(stored.Businesses, func(a models.Application) bool { return filter.Matches(&a) }) {
			continue
		}
		p, err := clone(stored)
		if err != nil {
			s.mu.RUnlock()
			return nil, 0, err
		}
		for i := range p.Businesses {
			if app := &p.Businesses[i]; filter.Matches(app) {
				views = append(views, models.NewView(p, app))
			}
		}
	}
	s.mu.RUnlock()

	slices.SortStableFunc(views, func(a, b *models.View) int {
		if c := cmp.Compare(timeOrZero(b.SubmittedAt), timeOrZero(a.SubmittedAt)); c != 0 {
			return c
		}
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.BusinessID, b.BusinessID)
	})

	total := len(views)
	start := min(filter.Offset(), total)
	end := total
	if filter.Limit > 0 {
		end = min(start+filter.Limit, total)
	}
	return views[start:end], total, nil
}

func timeOrZero(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixNano()
}

func clone(p *models.Profile) (*models.Profile, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("copy profile: %w", err)
	}
	var out models.Profile
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("copy profile: %w", err)
	}
	return &out, nil
}
