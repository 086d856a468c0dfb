package sync

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/existflow/todosync/internal/logger"
	"github.com/existflow/todosync/internal/model"
	"github.com/existflow/todosync/internal/schema"
)

func streamOf(raw string) *Stream {
	body := io.NopCloser(strings.NewReader(raw))
	return &Stream{body: body, reader: bufio.NewReader(body), log: logger.Discard()}
}

func TestStream_ParsesEvents(t *testing.T) {
	raw := ": connected\n\n" +
		"event: OnCreateTodo\nid: 1\ndata: {\"id\":\"a\",\"name\":\"first\",\"priority\":\"HIGH\",\"_version\":1}\n\n" +
		": keep-alive\n\n" +
		"event: somethingElse\ndata: {}\n\n" +
		"event: OnUpdateTodo\r\nid: 2\r\ndata: not json\r\n\r\n" +
		"event: OnDeleteTodo\nid: 3\ndata: {\"id\":\"a\",\"name\":\"first\",\"_version\":3,\"_deleted\":true}"

	s := streamOf(raw)

	d, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, schema.OpOnCreateTodo, d.Operation)
	assert.Equal(t, model.ChangeCreate, d.Kind)
	assert.Equal(t, "first", d.Record.Name)
	assert.Equal(t, model.PriorityHigh, d.Record.Priority)

	// The unknown event and the malformed one are skipped; the last event
	// has no trailing blank line
	d, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, model.ChangeDelete, d.Kind)
	assert.True(t, d.Record.Deleted)
	assert.EqualValues(t, 3, d.Record.Version)

	_, err = s.Next()
	assert.ErrorIs(t, err, model.ErrStreamTerminated)
}

func TestEventBuilder_MultilineData(t *testing.T) {
	var b eventBuilder
	b.handleLine("event: x")
	b.handleLine("data: one")
	b.handleLine("data:two")
	b.handleLine("retry: 10")
	b.handleLine("garbage")
	require.True(t, b.hasContent())
	assert.Equal(t, Event{Name: "x", Data: "one\ntwo"}, b.event())

	b.reset()
	assert.False(t, b.hasContent())
}

func TestClient_SubscribeSendsOperations(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/graphql/realtime", r.URL.Path)
		assert.Equal(t, "OnCreateTodo,OnDeleteTodo", r.URL.Query().Get("operations"))
		assert.Equal(t, "k", r.Header.Get(HeaderAPIKey))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": connected\n\nevent: OnCreateTodo\ndata: {\"id\":\"a\",\"name\":\"n\",\"_version\":1}\n\n")
	}))
	defer ts.Close()

	c := NewClient(ts.URL, APIKeySigner{Key: "k"}, nil)
	stream, err := c.Subscribe(context.Background(), []string{schema.OpOnCreateTodo, schema.OpOnDeleteTodo})
	require.NoError(t, err)
	defer stream.Close()

	d, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", d.Record.ID)

	_, err = stream.Next()
	assert.ErrorIs(t, err, model.ErrStreamTerminated)
}

func TestClient_SubscribeErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, nil, nil)
	_, err := c.Subscribe(context.Background(), []string{schema.OpOnCreateTodo})
	assert.ErrorIs(t, err, model.ErrRemoteRejected)

	_, err = c.Subscribe(context.Background(), []string{schema.OpCreateTodo})
	assert.ErrorIs(t, err, model.ErrSchemaMismatch)
}
