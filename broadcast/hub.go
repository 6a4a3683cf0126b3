// Package broadcast is the process-wide fan-out of newly sent chat messages.
//
// A Hub keeps the last N published events in a ring buffer. Every Subscription
// owns a read cursor into that buffer, so a publish never waits for a reader and
// one slow reader never holds back the others. A reader that falls more than N
// events behind is told so once (see LagError) and resumes at the newest event.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Ragudos/chat-server/models"
)

// DefaultCapacity is the number of events retained for lagging subscribers.
const DefaultCapacity = 1024

var (
	// ErrClosed is returned by Recv after the subscription was cancelled or
	// the hub was closed.
	ErrClosed = errors.New("broadcast: subscription closed")

	// ErrLagged matches every *LagError.
	ErrLagged = errors.New("broadcast: subscriber lagged")
)

// LagError reports how many events a subscriber missed because it fell behind
// the ring buffer. The subscription stays usable.
type LagError struct {
	Skipped uint64
}

func (e *LagError) Error() string {
	return fmt.Sprintf("broadcast: subscriber lagged, skipped %d events", e.Skipped)
}

func (e *LagError) Is(target error) bool {
	return target == ErrLagged
}

type Hub struct {
	mu     sync.Mutex
	buf    []models.BroadcastEvent
	tail   uint64 // sequence number of the next published event
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	// notify is closed and replaced on every publish to wake blocked readers.
	notify chan struct{}
}

// New returns a Hub retaining capacity events. A capacity below 1 uses
// DefaultCapacity.
func New(capacity int) *Hub {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Hub{
		buf:    make([]models.BroadcastEvent, capacity),
		subs:   make(map[uint64]*Subscription),
		notify: make(chan struct{}),
	}
}

// Publish hands ev to every current subscriber and returns how many there
// were. With no subscribers the event is dropped. It never blocks on readers.
func (h *Hub) Publish(ev models.BroadcastEvent) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed || len(h.subs) == 0 {
		return 0
	}

	h.buf[h.tail%uint64(len(h.buf))] = ev
	h.tail++

	close(h.notify)
	h.notify = make(chan struct{})

	return len(h.subs)
}

// Subscribe registers a new reader. It observes every event published after
// Subscribe returns, and nothing published before.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		hub:  h,
		id:   h.nextID,
		next: h.tail,
		done: make(chan struct{}),
	}
	if h.closed {
		sub.closed = true
		close(sub.done)
		return sub
	}
	h.subs[sub.id] = sub
	return sub
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription. Blocked Recv calls return ErrClosed and later
// Publish calls are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		sub.closeLocked()
		delete(h.subs, id)
	}
	close(h.notify)
}

// Subscription is one reader of a Hub. Recv must not be called concurrently
// on the same Subscription; Cancel may be called from any goroutine.
type Subscription struct {
	hub    *Hub
	id     uint64
	next   uint64 // guarded by hub.mu
	closed bool   // guarded by hub.mu
	done   chan struct{}
}

// Recv returns the next event. It blocks until one is published, ctx is done,
// or the subscription is closed.
func (s *Subscription) Recv(ctx context.Context) (models.BroadcastEvent, error) {
	h := s.hub
	for {
		h.mu.Lock()
		if s.closed {
			h.mu.Unlock()
			return models.BroadcastEvent{}, ErrClosed
		}

		if s.next < h.tail {
			capacity := uint64(len(h.buf))
			if behind := h.tail - s.next; behind > capacity {
				s.next = h.tail
				h.mu.Unlock()
				return models.BroadcastEvent{}, &LagError{Skipped: behind}
			}
			ev := h.buf[s.next%capacity]
			s.next++
			h.mu.Unlock()
			return ev, nil
		}

		wait := h.notify
		h.mu.Unlock()

		select {
		case <-wait:
		case <-s.done:
		case <-ctx.Done():
			return models.BroadcastEvent{}, ctx.Err()
		}
	}
}

// Done is closed once the subscription is cancelled or the hub is closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Cancel deregisters the subscription. It is safe to call more than once.
func (s *Subscription) Cancel() {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if s.closed {
		return
	}
	s.closeLocked()
	delete(h.subs, s.id)
}

func (s *Subscription) closeLocked() {
	s.closed = true
	close(s.done)
}
