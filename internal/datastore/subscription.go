package datastore

import (
	"sync"

	"github.com/existflow/todosync/internal/model"
)

// Subscription is a live stream of change events. Events arrive in the order
// the changes were observed locally.
type Subscription struct {
	id     uint64
	hub    *hub
	kinds  map[model.ChangeKind]bool
	queue  *eventQueue
	events chan model.ChangeEvent
	done   chan struct{}
	ended  chan struct{} // closed when pump exits

	once sync.Once
	mu   sync.Mutex
	err  error
}

// Events returns the event channel. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan model.ChangeEvent {
	return s.events
}

// Err returns why the subscription ended: nil after Cancel, an error wrapping
// ErrStreamTerminated after a dropped realtime connection.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cancel ends the subscription. It returns once the pump has exited, so no
// event is delivered after Cancel returns.
func (s *Subscription) Cancel() {
	s.hub.remove(s.id)
	s.once.Do(func() {
		close(s.done)
		s.queue.Close()
	})
	<-s.ended
}

// terminate ends the subscription with a cause once the queued events drain
func (s *Subscription) terminate(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.queue.Close()
}

func (s *Subscription) deliver(ev model.ChangeEvent) {
	if s.kinds[ev.Kind] {
		s.queue.Enqueue(ev)
	}
}

// pump moves events from the queue to the consumer channel
func (s *Subscription) pump() {
	defer close(s.ended)
	defer close(s.events)
	for {
		ev, ok, drained := s.queue.TryDequeue()
		if drained {
			return
		}
		if !ok {
			select {
			case <-s.queue.Wait():
			case <-s.done:
				return
			}
			continue
		}

		// Cancellation wins over a ready consumer
		select {
		case <-s.done:
			return
		default:
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

// hub fans events out to every open subscription
type hub struct {
	mu       sync.Mutex
	nextID   uint64
	subs     map[uint64]*Subscription
	capacity int
}

func newHub(capacity int) *hub {
	return &hub{subs: make(map[uint64]*Subscription), capacity: capacity}
}

func (h *hub) subscribe(kinds map[model.ChangeKind]bool) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	s := &Subscription{
		id:     h.nextID,
		hub:    h,
		kinds:  kinds,
		queue:  newEventQueue(h.capacity),
		events: make(chan model.ChangeEvent),
		done:   make(chan struct{}),
		ended:  make(chan struct{}),
	}
	h.subs[s.id] = s
	go s.pump()
	return s
}

func (h *hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

// publish enqueues ev on every subscription. Holding the lock while enqueuing
// keeps the order identical across subscribers.
func (h *hub) publish(ev model.ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.subs {
		s.deliver(ev)
	}
}

// terminateAll ends every open subscription with err
func (h *hub) terminateAll(err error) {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[uint64]*Subscription)
	h.mu.Unlock()

	for _, s := range subs {
		s.terminate(err)
	}
}

func (h *hub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
