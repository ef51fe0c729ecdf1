package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }

	t.Run("opens after threshold consecutive failures", func(t *testing.T) {
		cb.RecordFailure()
		assert.True(t, cb.Allow())
		cb.RecordFailure()
		assert.True(t, cb.IsOpen())
		assert.False(t, cb.Allow())
	})

	t.Run("half-open after cooldown", func(t *testing.T) {
		now = now.Add(time.Minute + time.Second)
		assert.True(t, cb.Allow())
		assert.False(t, cb.IsOpen())
	})

	t.Run("failure while half-open reopens", func(t *testing.T) {
		cb.RecordFailure()
		assert.True(t, cb.IsOpen())
		assert.False(t, cb.Allow())
	})

	t.Run("success closes", func(t *testing.T) {
		now = now.Add(2 * time.Minute)
		assert.True(t, cb.Allow())
		cb.RecordSuccess()
		cb.RecordFailure()
		assert.False(t, cb.IsOpen())
	})
}
