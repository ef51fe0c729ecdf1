// Package maintenance stores the portal-wide maintenance window that
// maintenance_mode approvals toggle.
package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"bizportal/internal/accounts/models"
)

// Key holds the active window as JSON. Absent means maintenance is off.
const Key = "bizportal:maintenance"

// RedisSwitch shares the window across instances.
type RedisSwitch struct {
	client redis.UniversalClient
}

func NewRedisSwitch(client redis.UniversalClient) *RedisSwitch {
	return &RedisSwitch{client: client}
}

func (s *RedisSwitch) Enable(ctx context.Context, window models.MaintenanceWindow) error {
	window.Active = true
	body, err := json.Marshal(window)
	if err != nil {
		return fmt.Errorf("marshal maintenance window: %w", err)
	}
	if err := s.client.Set(ctx, Key, body, 0).Err(); err != nil {
		return fmt.Errorf("set maintenance window: %w", err)
	}
	return nil
}

func (s *RedisSwitch) Disable(ctx context.Context) error {
	if err := s.client.Del(ctx, Key).Err(); err != nil {
		return fmt.Errorf("clear maintenance window: %w", err)
	}
	return nil
}

// Current returns nil when maintenance is off.
func (s *RedisSwitch) Current(ctx context.Context) (*models.MaintenanceWindow, error) {
	body, err := s.client.Get(ctx, Key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get maintenance window: %w", err)
	}
	var window models.MaintenanceWindow
	if err := json.Unmarshal(body, &window); err != nil {
		return nil, fmt.Errorf("decode maintenance window: %w", err)
	}
	return &window, nil
}

// MemorySwitch is the single-process fallback.
type MemorySwitch struct {
	mu     sync.RWMutex
	window *models.MaintenanceWindow
}

func NewMemorySwitch() *MemorySwitch {
	return &MemorySwitch{}
}

func (s *MemorySwitch) Enable(_ context.Context, window models.MaintenanceWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	window.Active = true
	s.window = &window
	return nil
}

func (s *MemorySwitch) Disable(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = nil
	return nil
}

func (s *MemorySwitch) Current(context.Context) (*models.MaintenanceWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.window == nil {
		return nil, nil
	}
	w := *s.window
	return &w, nil
}
