package queue

import (
	"sync"

	"github.com/ghalamif/proxyscope/internal/domain"
	"github.com/ghalamif/proxyscope/internal/ports"
)

const DefaultEventCapacity = 100

// EventRing is a bounded in-memory buffer of connection events. Once full,
// each Push evicts the oldest event.
type EventRing struct {
	mu   sync.RWMutex
	data []domain.ConnectionEvent
	head int // next write position
	size int
}

func NewEventRing(capacity int) *EventRing {
	if capacity <= 0 {
		capacity = DefaultEventCapacity
	}
	return &EventRing{data: make([]domain.ConnectionEvent, capacity)}
}

func (r *EventRing) Push(ev domain.ConnectionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[r.head] = ev
	r.head = (r.head + 1) % len(r.data)
	if r.size < len(r.data) {
		r.size++
	}
}

func (r *EventRing) Snapshot() []domain.ConnectionEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ConnectionEvent, r.size)
	idx := r.head
	for i := 0; i < r.size; i++ {
		idx--
		if idx < 0 {
			idx = len(r.data) - 1
		}
		out[i] = r.data[idx]
	}
	return out
}

func (r *EventRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

func (r *EventRing) Cap() int { return len(r.data) }

var _ ports.EventBuffer = (*EventRing)(nil)
