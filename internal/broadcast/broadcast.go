// Package broadcast is a bounded, lossy multi-producer/multi-consumer fan
// out, used by internal/store to notify HTTP stream subscribers of newly
// committed blocks (spec.md §4.D/§4.F).
//
// Go's standard library has no equivalent of Rust's tokio::sync::broadcast
// (the collaborator original_source/server/src/store/mod.rs builds on), so
// this hand-rolls the same semantics with channels: each subscriber gets
// its own buffered channel, and a publish that would block a slow
// subscriber drops the message for that subscriber instead of blocking the
// publisher.
package broadcast

import "sync"

// defaultBuffer matches the Rust original's broadcast::channel(512).
const defaultBuffer = 512

// Hub fans out values of type T to any number of subscribers.
type Hub[T any] struct {
	mu   sync.Mutex
	subs map[int]chan T
	next int
}

// NewHub builds an empty Hub.
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[int]chan T)}
}

// Subscription is a live registration with a Hub. Call Unsubscribe when
// the consumer is done to release its channel.
type Subscription[T any] struct {
	id   int
	ch   chan T
	hub  *Hub[T]
}

// C returns the channel to receive published values from.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Unsubscribe removes the subscription from its hub and closes its
// channel. Safe to call more than once.
func (s *Subscription[T]) Unsubscribe() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if ch, ok := s.hub.subs[s.id]; ok {
		delete(s.hub.subs, s.id)
		close(ch)
	}
}

// Subscribe registers a new subscriber and returns its Subscription.
func (h *Hub[T]) Subscribe() *Subscription[T] {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	ch := make(chan T, defaultBuffer)
	h.subs[id] = ch
	return &Subscription[T]{id: id, ch: ch, hub: h}
}

// Publish sends v to every current subscriber. A subscriber whose buffer
// is full has v dropped for it rather than blocking the publisher or other
// subscribers. Returns the number of subscribers the value was delivered
// to.
func (h *Hub[T]) Publish(v T) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for _, ch := range h.subs {
		select {
		case ch <- v:
			delivered++
		default:
			// slow subscriber: drop
		}
	}
	return delivered
}

// Subscribers reports the current subscriber count.
func (h *Hub[T]) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
