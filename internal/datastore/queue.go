package datastore

import (
	"sync"

	"github.com/existflow/todosync/internal/model"
)

// eventQueue is an unbounded FIFO between the writers publishing change
// events and one subscription's consumer. Enqueue never blocks, so a slow
// consumer cannot stall a write.
type eventQueue struct {
	mu     sync.Mutex
	events []model.ChangeEvent
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue(capacity int) *eventQueue {
	return &eventQueue{
		events: make([]model.ChangeEvent, 0, capacity),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends an event. It returns false once the queue is closed.
func (q *eventQueue) Enqueue(ev model.ChangeEvent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, ev)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue pops the front event without blocking. done is true when the
// queue is closed and drained.
func (q *eventQueue) TryDequeue() (ev model.ChangeEvent, ok, done bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return model.ChangeEvent{}, false, q.closed
	}

	ev = q.events[0]
	q.events[0] = model.ChangeEvent{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return ev, true, false
}

// Wait signals that events may be available. It is closed by Close.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued events
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close stops accepting events. Queued events can still be drained.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
