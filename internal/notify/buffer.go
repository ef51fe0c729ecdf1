package notify

import "sync"

// RingBuffer is a bounded, thread-safe FIFO of pending notifications.
// When full, the oldest notification is dropped to make room.
type RingBuffer struct {
	mu       sync.Mutex
	items    []Notification
	head     int // next write position
	tail     int // next read position
	count    int
	capacity int

	dropped int64
}

func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1024
	}
	return &RingBuffer{
		items:    make([]Notification, capacity),
		capacity: capacity,
	}
}

// Enqueue adds n and reports whether an older notification was dropped.
func (b *RingBuffer) Enqueue(n Notification) (dropped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count >= b.capacity {
		b.items[b.tail] = Notification{}
		b.tail = (b.tail + 1) % b.capacity
		b.count--
		b.dropped++
		dropped = true
	}

	b.items[b.head] = n
	b.head = (b.head + 1) % b.capacity
	b.count++
	return dropped
}

// Dequeue removes the oldest notification.
func (b *RingBuffer) Dequeue() (Notification, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return Notification{}, false
	}
	n := b.items[b.tail]
	b.items[b.tail] = Notification{}
	b.tail = (b.tail + 1) % b.capacity
	b.count--
	return n, true
}

func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Dropped returns the total number of notifications evicted while full.
func (b *RingBuffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
