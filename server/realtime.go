package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/existflow/todosync/internal/logger"
	"github.com/existflow/todosync/internal/model"
	"github.com/existflow/todosync/internal/schema"
)

// subscriberBuffer bounds a slow stream. A subscriber that falls this far
// behind is disconnected and catches up with a delta sync.
const subscriberBuffer = 256

// Notification is one record change published to realtime subscribers
type Notification struct {
	Operation string
	Record    model.Todo
}

type subscriber struct {
	ops map[string]bool
	ch  chan Notification
}

// Hub fans accepted mutations out to realtime subscribers
type Hub struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a subscriber for the given operations. The returned
// channel closes when the subscriber is removed or falls behind.
func (h *Hub) Subscribe(ops []string) (<-chan Notification, func()) {
	sub := &subscriber{ops: make(map[string]bool, len(ops)), ch: make(chan Notification, subscriberBuffer)}
	for _, op := range ops {
		sub.ops[op] = true
	}

	h.mu.Lock()
	if h.closed {
		close(sub.ch)
	} else {
		h.subs[sub] = struct{}{}
	}
	h.mu.Unlock()

	return sub.ch, func() { h.remove(sub) }
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

// Publish delivers a change to every subscriber of op
func (h *Hub) Publish(op string, t model.Todo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if !sub.ops[op] {
			continue
		}
		select {
		case sub.ch <- Notification{Operation: op, Record: t}:
		default:
			delete(h.subs, sub)
			close(sub.ch)
		}
	}
}

// Subscribers returns the number of open streams
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber and refuses new ones
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

// DisconnectAll drops every open stream without closing the hub
func (h *Hub) DisconnectAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

// handleRealtime streams record changes as server-sent events
func (s *Server) handleRealtime(c echo.Context) error {
	var ops []string
	if raw := c.QueryParam("operations"); raw != "" {
		ops = strings.Split(raw, ",")
	} else {
		ops = s.registry.Subscriptions()
	}
	for _, op := range ops {
		message := ""
		if _, ok := schema.KindForSubscription(op); !ok {
			message = fmt.Sprintf("%s is not a subscription", op)
		} else if err := s.registry.CheckOperation(op); err != nil {
			message = err.Error()
		}
		if message != "" {
			return c.JSON(http.StatusBadRequest, errorResponse(&model.RemoteError{
				Type:    model.ErrorTypeSchema,
				Message: message,
			}))
		}
	}

	notifications, cancel := s.hub.Subscribe(ops)
	defer cancel()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(res, ": connected\n\n"); err != nil {
		return nil
	}
	res.Flush()

	s.log.Debug("Realtime subscriber connected", logger.F("operations", ops))

	keepAlive := time.NewTicker(s.cfg.KeepAlive)
	defer keepAlive.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-keepAlive.C:
			if _, err := fmt.Fprint(res, ": keep-alive\n\n"); err != nil {
				return nil
			}
			res.Flush()
		case n, ok := <-notifications:
			if !ok {
				s.log.Debug("Realtime subscriber disconnected")
				return nil
			}
			data, err := json.Marshal(n.Record)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(res, "event: %s\nid: %d\ndata: %s\n\n", n.Operation, n.Record.Version, data); err != nil {
				return nil
			}
			res.Flush()
		}
	}
}
