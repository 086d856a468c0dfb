package sync

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/existflow/todosync/internal/logger"
	"github.com/existflow/todosync/internal/model"
	"github.com/existflow/todosync/internal/schema"
)

// Event is one server-sent event
type Event struct {
	ID   string
	Name string
	Data string
}

// Delta is a record change pushed by the realtime endpoint
type Delta struct {
	Operation string
	Kind      model.ChangeKind
	Record    model.Todo
}

// Stream is an open realtime connection
type Stream struct {
	body    io.ReadCloser
	reader  *bufio.Reader
	builder eventBuilder
	log     *logger.Logger
}

// Subscribe opens the realtime stream for the given subscription operations.
// It returns once the endpoint has accepted the connection.
func (c *Client) Subscribe(ctx context.Context, operations []string) (*Stream, error) {
	for _, op := range operations {
		if _, ok := schema.KindForSubscription(op); !ok {
			return nil, fmt.Errorf("%w: %s is not a subscription", model.ErrSchemaMismatch, op)
		}
	}

	u := c.endpoint + "/graphql/realtime?" + url.Values{"operations": {strings.Join(operations, ",")}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if err := c.sign(req, nil); err != nil {
		return nil, err
	}

	// The stream outlives the default request timeout
	httpClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransportError{Op: "subscribe", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, &model.RemoteError{Type: statusErrorType(resp.StatusCode), Message: strings.TrimSpace(string(body))}
	}

	c.log.Debug("Realtime stream opened", logger.F("operations", operations))
	return &Stream{body: resp.Body, reader: bufio.NewReader(resp.Body), log: c.log}, nil
}

// Next blocks until the next delta arrives. A closed or broken connection
// returns an error wrapping ErrStreamTerminated.
func (s *Stream) Next() (Delta, error) {
	for {
		ev, err := s.nextEvent()
		if err != nil {
			return Delta{}, fmt.Errorf("%w: %v", model.ErrStreamTerminated, err)
		}
		kind, ok := schema.KindForSubscription(ev.Name)
		if !ok {
			s.log.Debug("Ignoring realtime event", logger.F("event", ev.Name))
			continue
		}
		var t model.Todo
		if err := json.Unmarshal([]byte(ev.Data), &t); err != nil {
			s.log.Warn("Malformed realtime event", logger.F("event", ev.Name), logger.F("error", err))
			continue
		}
		return Delta{Operation: ev.Name, Kind: kind, Record: t}, nil
	}
}

func (s *Stream) nextEvent() (Event, error) {
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return Event{}, err
		}

		trimmed := strings.TrimRight(line, "\r\n")
		if errors.Is(err, io.EOF) {
			if trimmed != "" {
				s.builder.handleLine(trimmed)
			}
			if s.builder.hasContent() {
				ev := s.builder.event()
				s.builder.reset()
				return ev, nil
			}
			return Event{}, io.EOF
		}

		if trimmed == "" {
			if s.builder.hasContent() {
				ev := s.builder.event()
				s.builder.reset()
				return ev, nil
			}
			continue
		}
		s.builder.handleLine(trimmed)
	}
}

// Close releases the connection
func (s *Stream) Close() error {
	return s.body.Close()
}

type eventBuilder struct {
	id   string
	name string
	data []string
}

func (b *eventBuilder) handleLine(line string) {
	// Comment lines are keep-alives
	if strings.HasPrefix(line, ":") {
		return
	}

	field, value, ok := strings.Cut(line, ":")
	if !ok {
		return
	}
	value = strings.TrimPrefix(value, " ")

	switch field {
	case "event":
		b.name = value
	case "data":
		b.data = append(b.data, value)
	case "id":
		b.id = value
	}
}

func (b *eventBuilder) hasContent() bool {
	return b.id != "" || b.name != "" || len(b.data) > 0
}

func (b *eventBuilder) event() Event {
	return Event{ID: b.id, Name: b.name, Data: strings.Join(b.data, "\n")}
}

func (b *eventBuilder) reset() {
	b.id = ""
	b.name = ""
	b.data = nil
}
