// Package event provides a small typed broadcast channel used for state
// change notifications (connectivity flips, queue activity, sync rounds).
//
// Publishing never blocks: each subscriber owns a buffered channel and a
// notification is dropped for a subscriber whose buffer is full. Consumers
// that need the current value read it from the owning component rather
// than reconstructing it from the notification stream.
package event

import "sync"

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 32

// Bus fans out values of type T to every live subscription.
//
// Thread-safety: Publish, Subscribe and Subscription.Close may be called
// from any goroutine.
type Bus[T any] struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription[T]
	nextID uint64
	closed bool
}

// NewBus creates an empty bus.
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[uint64]*Subscription[T])}
}

// Subscription is one receiver. C is closed when the subscription or the
// bus is closed.
type Subscription[T any] struct {
	C <-chan T

	ch   chan T
	bus  *Bus[T]
	id   uint64
	once sync.Once
}

// Subscribe registers a receiver with DefaultBuffer capacity.
func (b *Bus[T]) Subscribe() *Subscription[T] {
	return b.SubscribeBuffered(DefaultBuffer)
}

// SubscribeBuffered registers a receiver with the given capacity.
// Subscribing to a closed bus returns an already-closed subscription.
func (b *Bus[T]) SubscribeBuffered(size int) *Subscription[T] {
	if size < 1 {
		size = 1
	}
	ch := make(chan T, size)
	sub := &Subscription[T]{C: ch, ch: ch, bus: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.once.Do(func() { close(ch) })
		return sub
	}
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	return sub
}

// Publish delivers v to every subscriber without blocking.
// Returns the number of subscribers that received it.
func (b *Bus[T]) Publish(v T) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	delivered := 0
	for _, sub := range b.subs {
		select {
		case sub.ch <- v:
			delivered++
		default:
		}
	}
	return delivered
}

// Len returns the number of live subscriptions.
func (b *Bus[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscription; later Publish calls are no-ops.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		sub.once.Do(func() { close(sub.ch) })
	}
}

// Close unsubscribes and closes C. Safe to call more than once.
func (s *Subscription[T]) Close() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	s.once.Do(func() { close(s.ch) })
}
