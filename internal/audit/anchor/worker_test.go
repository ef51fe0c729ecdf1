package anchor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizportal/internal/audit/models"
	"bizportal/internal/audit/store/memory"
	"bizportal/internal/platform/kafka"
)

type fakePublisher struct {
	mu      sync.Mutex
	offset  int64
	records [][]byte
	err     error
}

func (p *fakePublisher) Publish(_ context.Context, topic string, _ []byte, value []byte) (kafka.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return kafka.Position{}, p.err
	}
	p.records = append(p.records, value)
	p.offset++
	return kafka.Position{Topic: topic, Partition: 0, Offset: p.offset}, nil
}

func newEntry(t *testing.T, store *memory.InMemoryStore) *models.Entry {
	t.Helper()
	e := &models.Entry{
		ID:        uuid.New(),
		UserID:    "owner-1",
		EventType: models.EventPermitReview,
		Hash:      "abc",
		Timestamp: time.Now().UTC(),
		Metadata:  map[string]any{},
	}
	require.NoError(t, store.Append(context.Background(), e))
	return e
}

func TestKafkaAnchorReturnsPosition(t *testing.T) {
	pub := &fakePublisher{}
	a := NewKafkaAnchor(pub, "audit.anchor")
	store := memory.NewInMemoryStore()

	ref, err := a.Anchor(context.Background(), newEntry(t, store))
	require.NoError(t, err)
	assert.Equal(t, "audit.anchor/0/1", ref)
	require.Len(t, pub.records, 1)
	assert.Contains(t, string(pub.records[0]), `"hash":"abc"`)
}

func TestWorkerAnchorsQueuedEntries(t *testing.T) {
	store := memory.NewInMemoryStore()
	w := NewWorker(NewKafkaAnchor(&fakePublisher{}, "audit.anchor"), store)
	entry := newEntry(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.True(t, w.Enqueue(entry))
	require.Eventually(t, func() bool {
		got, err := store.FindByID(context.Background(), entry.ID)
		return err == nil && got.IsAnchored()
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestWorkerLeavesEntryUnanchoredOnFailure(t *testing.T) {
	store := memory.NewInMemoryStore()
	w := NewWorker(NewKafkaAnchor(&fakePublisher{err: errors.New("broker down")}, "audit.anchor"), store)
	entry := newEntry(t, store)

	w.process(context.Background(), entry)

	got, err := store.FindByID(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.False(t, got.IsAnchored())
}

func TestWorkerEnqueueDropsWhenFull(t *testing.T) {
	store := memory.NewInMemoryStore()
	w := NewWorker(NewKafkaAnchor(&fakePublisher{}, "t"), store, WithBuffer(1))

	assert.True(t, w.Enqueue(newEntry(t, store)))
	assert.False(t, w.Enqueue(newEntry(t, store)))
}

func TestWorkerDrainsOnShutdown(t *testing.T) {
	store := memory.NewInMemoryStore()
	w := NewWorker(NewKafkaAnchor(&fakePublisher{}, "t"), store, WithBuffer(4))
	entry := newEntry(t, store)
	require.True(t, w.Enqueue(entry))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = w.Run(ctx)

	got, err := store.FindByID(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.True(t, got.IsAnchored())
}
