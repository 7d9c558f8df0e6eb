package stream

import (
	"sync"
	"sync/atomic"
)

// Subscriber receives the events of the topics it is subscribed to on a
// buffered channel. A slow subscriber loses events rather than stalling
// the publisher.
type Subscriber struct {
	id string
	ch chan *Event

	mu     sync.Mutex
	filter func(*Event) bool
	closed bool

	dropped atomic.Int64
}

// NewSubscriber creates a subscriber with the given buffer size.
func NewSubscriber(id string, bufferSize int) *Subscriber {
	return &Subscriber{id: id, ch: make(chan *Event, bufferSize)}
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the event channel. It is closed when the subscriber is
// removed.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// Dropped returns how many events were dropped on a full buffer.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// SetFilter sets a predicate events must match to be delivered.
func (s *Subscriber) SetFilter(fn func(*Event) bool) {
	s.mu.Lock()
	s.filter = fn
	s.mu.Unlock()
}

// send delivers an event without blocking. It reports false when the
// event was filtered out, the buffer was full or the subscriber is
// closed.
func (s *Subscriber) send(evt *Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if s.filter != nil && !s.filter(evt) {
		return false
	}
	select {
	case s.ch <- evt:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Close closes the event channel. Safe to call more than once.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
