// Package eventbus implements the in-process Event Bus (C8): best-effort,
// at-most-once fan-out to multiple subscribers. A slow subscriber is
// dropped from delivery rather than allowed to apply backpressure to the
// latency path — this is enforced with a fixed-capacity ring per
// subscriber plus a non-blocking send.
package eventbus

import (
	"sync"

	"github.com/northbeam/binarb/internal/domain"
)

// DefaultCapacity is the per-subscriber channel capacity used when none is
// given.
const DefaultCapacity = 256

type subscriber struct {
	ch chan domain.ArbEvent
}

// Bus is an in-process, lock-protected multi-subscriber broadcaster. True
// lock-free MPMC rings need either a single-producer discipline or a
// CAS-based ring the reference corpus does not carry a library for; this
// uses a short-held mutex over the subscriber list instead and a
// non-blocking per-subscriber channel send, which gives
// the same drop-slow-subscribers behavior spec.md requires.
type Bus struct {
	mu        sync.RWMutex
	subs      map[int]*subscriber
	nextID    int
	capacity  int
}

// New creates an event bus. capacity is the per-subscriber buffer size; 0
// uses DefaultCapacity.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		subs:     make(map[int]*subscriber),
		capacity: capacity,
	}
}

// Publish fans evt out to every current subscriber without blocking. A
// subscriber whose buffer is full simply misses this event.
func (b *Bus) Publish(evt domain.ArbEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		select {
		case s.ch <- evt:
		default:
			// slow subscriber: drop this event for them, never block the publisher.
		}
	}
}

// Subscribe registers a new receiver and returns its channel plus a
// cancel function that unregisters it.
func (b *Bus) Subscribe() (<-chan domain.ArbEvent, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	s := &subscriber{ch: make(chan domain.ArbEvent, b.capacity)}
	b.subs[id] = s
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
	return s.ch, cancel
}

// SubscriberCount reports the current number of live subscribers, mainly
// useful for tests and metrics.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

var _ domain.EventBus = (*Bus)(nil)
