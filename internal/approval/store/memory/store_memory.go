package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"bizportal/internal/approval/models"
	"bizportal/pkg/platform/sentinel"
)

// InMemoryStore keeps requests keyed by approval id. Values are stored as
// JSON-round-tripped copies so callers never share state with the store.
type InMemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*models.Request
	order    []string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{requests: make(map[string]*models.Request)}
}

func (s *InMemoryStore) Create(_ context.Context, req *models.Request) error {
	cp, err := clone(req)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ApprovalID]; ok {
		return sentinel.ErrConflict
	}
	s.requests[req.ApprovalID] = cp
	s.order = append(s.order, req.ApprovalID)
	return nil
}

func (s *InMemoryStore) FindByApprovalID(_ context.Context, approvalID string) (*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[approvalID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(req)
}

func (s *InMemoryStore) Update(_ context.Context, req *models.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.requests[req.ApprovalID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != req.Version {
		return sentinel.ErrConflict
	}
	next, err := clone(req)
	if err != nil {
		return err
	}
	next.Version++
	s.requests[req.ApprovalID] = next
	req.Version = next.Version
	return nil
}

// List returns matches newest first. Requests created in the same instant
// keep reverse insertion order.
func (s *InMemoryStore) List(_ context.Context, filter models.Filter) ([]*models.Request, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.Request
	for i := len(s.order) - 1; i >= 0; i-- {
		req := s.requests[s.order[i]]
		if filter.Matches(req) {
			matched = append(matched, req)
		}
	}
	slices.SortStableFunc(matched, func(a, b *models.Request) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	total := len(matched)
	start := min(filter.Offset(), total)
	end := total
	if filter.Limit > 0 {
		end = min(start+filter.Limit, total)
	}
	out := make([]*models.Request, 0, end-start)
	for _, req := range matched[start:end] {
		cp, err := clone(req)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, cp)
	}
	return out, total, nil
}

func clone(req *models.Request) (*models.Request, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode approval request: %w", err)
	}
	var cp models.Request
	if err := json.Unmarshal(b, &cp); err != nil {
		return nil, fmt.Errorf("decode approval request: %w", err)
	}
	return &cp, nil
}
