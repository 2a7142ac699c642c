package a2a

import "sync"

const queueSize = 64

// EventQueue carries events from an Executor to the server. Enqueue after
// Close is a no-op, so a late producer never panics.
type EventQueue struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// NewEventQueue returns an open queue.
func NewEventQueue() *EventQueue {
	return &EventQueue{ch: make(chan Event, queueSize)}
}

// Enqueue publishes ev and reports whether the queue was still open.
func (q *EventQueue) Enqueue(ev Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.ch <- ev
	return true
}

// Close ends the stream. It is safe to call more than once.
func (q *EventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// Events is drained by the server until Close.
func (q *EventQueue) Events() <-chan Event {
	return q.ch
}
