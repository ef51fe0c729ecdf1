package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/google/uuid"

	"bizportal/internal/forms/models"
	"bizportal/pkg/platform/sentinel"
)

// Store is an in-memory forms store. A single mutex serializes writers, so
// Execute and Publish are atomic.
type Store struct {
	mu          sync.RWMutex
	groups      map[uuid.UUID]*models.Group
	definitions map[uuid.UUID]*models.Definition
}

func NewInMemoryStore() *Store {
	return &Store{
		groups:      make(map[uuid.UUID]*models.Group),
		definitions: make(map[uuid.UUID]*models.Definition),
	}
}

func (s *Store) CreateGroup(_ context.Context, group *models.Group, first *models.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[group.ID]; ok {
		return sentinel.ErrConflict
	}
	for _, g := range s.groups {
		if !g.IsRetired() && g.FormType == group.FormType && g.IndustryScope == group.IndustryScope {
			return sentinel.ErrConflict
		}
	}
	if first != nil {
		if err := s.checkDefinitionLocked(first); err != nil {
			return err
		}
		s.definitions[first.ID] = clone(first)
	}
	s.groups[group.ID] = clone(group)
	return nil
}

func (s *Store) FindGroup(_ context.Context, id uuid.UUID) (*models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(g), nil
}

func (s *Store) ListGroups(_ context.Context, filter models.GroupFilter) ([]*models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Group
	for _, g := range s.groups {
		if filter.Matches(g) {
			out = append(out, clone(g))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FormType != out[j].FormType {
			return out[i].FormType < out[j].FormType
		}
		return out[i].IndustryScope < out[j].IndustryScope
	})
	return out, nil
}

func (s *Store) ExecuteGroup(_ context.Context, id uuid.UUID, validate func(*models.Group) error, mutate func(*models.Group)) (*models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.groups[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	working := clone(current)
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)
	working.Version = current.Version + 1
	s.groups[id] = working
	return clone(working), nil
}

func (s *Store) CreateDefinition(_ context.Context, def *models.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[def.GroupID]; !ok {
		return sentinel.ErrNotFound
	}
	if err := s.checkDefinitionLocked(def); err != nil {
		return err
	}
	s.definitions[def.ID] = clone(def)
	return nil
}

// checkDefinitionLocked enforces unique ids and unique versions per group.
func (s *Store) checkDefinitionLocked(def *models.Definition) error {
	if _, ok := s.definitions[def.ID]; ok {
		return sentinel.ErrConflict
	}
	for _, d := range s.definitions {
		if d.GroupID == def.GroupID && d.Version == def.Version {
			return sentinel.ErrConflict
		}
	}
	return nil
}

func (s *Store) FindDefinition(_ context.Context, id uuid.UUID) (*models.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.definitions[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(d), nil
}

// ListDefinitions returns the group's versions, newest first.
func (s *Store) ListDefinitions(_ context.Context, groupID uuid.UUID) ([]*models.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Definition
	for _, d := range s.definitions {
		if d.GroupID == groupID {
			out = append(out, clone(d))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Version > out[j].Version
	})
	return out, nil
}

func (s *Store) ExecuteDefinition(_ context.Context, id uuid.UUID, validate func(*models.Definition) error, mutate func(*models.Definition)) (*models.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.definitions[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	working := clone(current)
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)
	s.definitions[id] = working
	return clone(working), nil
}

func (s *Store) Publish(_ context.Context, id uuid.UUID, validate func(*models.Definition) error, mutate func(*models.Definition)) (*models.Definition, []*models.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.definitions[id]
	if !ok {
		return nil, nil, sentinel.ErrNotFound
	}
	working := clone(current)
	if err := validate(working); err != nil {
		return nil, nil, err
	}
	mutate(working)

	var superseded []*models.Definition
	for otherID, d := range s.definitions {
		if otherID == id || d.GroupID != working.GroupID || d.Status != models.StatusPublished {
			continue
		}
		archived := clone(d)
		archived.ApplyStatus(models.StatusArchived, working.UpdatedAt)
		s.definitions[otherID] = archived
		superseded = append(superseded, clone(archived))
	}
	s.definitions[id] = working
	return clone(working), superseded, nil
}

func (s *Store) ListPublished(_ context.Context, formType models.FormType) ([]*models.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Definition
	for _, d := range s.definitions {
		if d.FormType != formType || d.Status != models.StatusPublished {
			continue
		}
		if g, ok := s.groups[d.GroupID]; !ok || g.IsRetired() {
			continue
		}
		out = append(out, clone(d))
	}
	return out, nil
}

// clone deep-copies through JSON so callers never share slices with the
// store.
func clone[T any](v *T) *T {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		panic(err)
	}
	return &out
}
