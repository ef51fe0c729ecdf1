package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"bizportal/internal/audit/models"
	"bizportal/pkg/platform/sentinel"
)

// InMemoryStore keeps entries in insertion order. Entries are copied on the
// way in and out so callers cannot mutate stored state.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []*models.Entry
	byID    map[uuid.UUID]int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byID: make(map[uuid.UUID]int)}
}

func (s *InMemoryStore) Append(_ context.Context, entry *models.Entry) error {
	cp, err := clone(entry)
	if err != nil {
		return fmt.Errorf("copy audit entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[entry.ID]; exists {
		return fmt.Errorf("append audit entry %s: %w", entry.ID, sentinel.ErrAlreadyUsed)
	}
	s.byID[cp.ID] = len(s.entries)
	s.entries = append(s.entries, cp)
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id uuid.UUID) (*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(s.entries[idx])
}

func (s *InMemoryStore) ListByUser(_ context.Context, userID string) ([]*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Entry
	for _, e := range s.entries {
		if e.UserID != userID {
			continue
		}
		cp, err := clone(e)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// ListRecent returns up to limit entries, newest first.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Entry, 0, min(limit, len(s.entries)))
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		cp, err := clone(s.entries[i])
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func (s *InMemoryStore) AttachAnchor(_ context.Context, id uuid.UUID, ref string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	e := s.entries[idx]
	if e.AnchorRef != "" {
		if e.AnchorRef == ref {
			return nil
		}
		return sentinel.ErrConflict
	}
	e.AnchorRef = ref
	anchoredAt := at
	e.AnchoredAt = &anchoredAt
	return nil
}

// Tamper overwrites a stored field. Test helper for verification paths.
func (s *InMemoryStore) Tamper(id uuid.UUID, mutate func(*models.Entry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.byID[id]; ok {
		mutate(s.entries[idx])
	}
}

// clone round-trips metadata through JSON, matching what a document store
// hands back.
func clone(e *models.Entry) (*models.Entry, error) {
	cp := *e
	if e.Metadata != nil {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, err
		}
		var meta map[string]any
		if err := json.Unmarshal(b, &meta); err != nil {
			return nil, err
		}
		cp.Metadata = meta
	}
	if e.AnchoredAt != nil {
		at := *e.AnchoredAt
		cp.AnchoredAt = &at
	}
	return &cp, nil
}
