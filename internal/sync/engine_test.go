package sync_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/existflow/todosync/internal/config"
	"github.com/existflow/todosync/internal/db"
	"github.com/existflow/todosync/internal/model"
	"github.com/existflow/todosync/internal/schema"
	tsync "github.com/existflow/todosync/internal/sync"
	"github.com/existflow/todosync/server"
)

const apiKey = "engine-key"

// gate sits in front of the server to simulate outages and rejections
type gate struct {
	next         http.Handler
	down         atomic.Bool
	rejectCreate atomic.Bool
	// loseCreate lets one create reach the server and drops its response
	loseCreate atomic.Bool
}

func hangUp(w http.ResponseWriter) {
	if hj, ok := w.(http.Hijacker); ok {
		if conn, _, err := hj.Hijack(); err == nil {
			_ = conn.Close()
			return
		}
	}
	w.WriteHeader(http.StatusBadGateway)
}

func (g *gate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.down.Load() {
		hangUp(w)
		return
	}
	if g.loseCreate.Load() && r.URL.Path == "/graphql" {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))
		if bytes.Contains(body, []byte(`"operationName":"CreateTodo"`)) && g.loseCreate.CompareAndSwap(true, false) {
			g.next.ServeHTTP(httptest.NewRecorder(), r)
			hangUp(w)
			return
		}
	}
	if g.rejectCreate.Load() && r.URL.Path == "/graphql" {
		body, _ := io.ReadAll(r.Body)
		if bytes.Contains(body, []byte(`"operationName":"CreateTodo"`)) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"data":{"createTodo":null},"errors":[{"message":"name is reserved","errorType":"ValidationError"}]}`))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}
	g.next.ServeHTTP(w, r)
}

type fixture struct {
	srv  *server.Server
	gate *gate
	ts   *httptest.Server
}

func newFixture(t *testing.T, cfg server.Config) *fixture {
	t.Helper()
	srv := server.New(server.NewMemoryStore(), cfg)
	g := &gate{next: srv.Router()}
	ts := httptest.NewServer(g)
	t.Cleanup(func() {
		srv.Hub().Close()
		ts.Close()
	})
	return &fixture{srv: srv, gate: g, ts: ts}
}

func apiKeyFixture(t *testing.T) *fixture {
	return newFixture(t, server.Config{AuthMode: server.AuthAPIKey, APIKeys: []string{apiKey}})
}

func (f *fixture) config() *config.Config {
	cfg := config.DefaultConfig()
	cfg.API.Endpoint = f.ts.URL
	cfg.API.AuthMode = config.AuthAPIKey
	cfg.API.APIKey = apiKey
	cfg.Storage.Path = db.MemoryPath
	cfg.Sync.Debounce = time.Hour
	cfg.Sync.PollInterval = time.Hour
	cfg.Sync.MaxBackoff = 100 * time.Millisecond
	cfg.Sync.SurfaceConflicts = true
	return cfg
}

// recorder is the event sink and error handler of a session
type recorder struct {
	mu         sync.Mutex
	events     []model.ChangeEvent
	errs       []error
	terminated []error
}

func (r *recorder) Publish(ev model.ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) Terminate(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminated = append(r.terminated, err)
}

func (r *recorder) onError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) Events() []model.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ChangeEvent(nil), r.events...)
}

func (r *recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recorder) Terminated() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.terminated)
}

func withoutRealtime(t *testing.T) *schema.Registry {
	t.Helper()
	r, err := schema.New(schema.OpGetTodo, schema.OpListTodos, schema.OpSyncTodos,
		schema.OpCreateTodo, schema.OpUpdateTodo, schema.OpDeleteTodo)
	require.NoError(t, err)
	return r
}

func dial(t *testing.T, cfg *config.Config, registry *schema.Registry) (*tsync.Session, *recorder) {
	t.Helper()
	rec := &recorder{}
	s, err := tsync.Dial(context.Background(), cfg, tsync.DialOptions{
		Registry: registry,
		Sink:     rec,
		OnError:  rec.onError,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, rec
}

func createLocal(t *testing.T, s *tsync.Session, name string) model.Todo {
	t.Helper()
	todo := model.NewTodo(fmt.Sprintf("%s-%d", name, time.Now().UnixNano()), model.Fields{Name: model.String(name)})
	require.NoError(t, s.Create(context.Background(), todo))
	return todo
}

func TestEngine_PushThenPull(t *testing.T) {
	f := apiKeyFixture(t)
	ctx := context.Background()
	a, _ := dial(t, f.config(), withoutRealtime(t))
	b, recB := dial(t, f.config(), withoutRealtime(t))

	todo := createLocal(t, a, "Buy milk")
	res, err := a.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Pending)
	assert.False(t, res.Offline)

	got, err := a.Get(ctx, todo.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.Version)

	_, err = b.Sync(ctx)
	require.NoError(t, err)
	pulled, err := b.Get(ctx, todo.ID)
	require.NoError(t, err)
	assert.Equal(t, "Buy milk", pulled.Name)
	assert.EqualValues(t, 1, pulled.Version)

	events := recB.Events()
	require.Len(t, events, 1)
	assert.Equal(t, model.ChangeCreate, events[0].Kind)
	assert.Equal(t, model.SourceRemote, events[0].Source)

	// A second pull finds nothing new
	res, err = b.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Pulled)
}

func TestEngine_QueuedEditsRebaseOnAck(t *testing.T) {
	f := apiKeyFixture(t)
	ctx := context.Background()
	a, _ := dial(t, f.config(), withoutRealtime(t))

	todo := createLocal(t, a, "draft")
	_, err := a.Update(ctx, todo.ID, model.Fields{Name: model.String("final")}, 0)
	require.NoError(t, err)
	_, err = a.Update(ctx, todo.ID, model.Fields{Priority: model.PriorityOf(model.PriorityLow)}, 0)
	require.NoError(t, err)

	res, err := a.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Pending)
	assert.Zero(t, res.Conflicts)

	got, err := a.Get(ctx, todo.ID)
	require.NoError(t, err)
	assert.Equal(t, "final", got.Name)
	assert.Equal(t, model.PriorityLow, got.Priority)
	assert.EqualValues(t, 3, got.Version)

	remote, err := a.Client().GetTodo(ctx, todo.ID)
	require.NoError(t, err)
	assert.True(t, got.SameContent(remote))
}

func TestEngine_LostCreateResponseKeepsQueuedEdits(t *testing.T) {
	f := apiKeyFixture(t)
	ctx := context.Background()
	a, rec := dial(t, f.config(), withoutRealtime(t))

	f.gate.loseCreate.Store(true)
	todo := createLocal(t, a, "draft")
	_, err := a.Update(ctx, todo.ID, model.Fields{Name: model.String("final")}, 0)
	require.NoError(t, err)

	_, err = a.Sync(ctx)
	require.NoError(t, err)
	require.False(t, f.gate.loseCreate.Load())

	res, err := a.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Pending)
	assert.Zero(t, res.Conflicts)
	assert.Empty(t, rec.Errors())

	got, err := a.Get(ctx, todo.ID)
	require.NoError(t, err)
	assert.Equal(t, "final", got.Name)
	assert.EqualValues(t, 2, got.Version)

	remote, err := a.Client().GetTodo(ctx, todo.ID)
	require.NoError(t, err)
	assert.Equal(t, "final", remote.Name)
	assert.EqualValues(t, 2, remote.Version)
}

func TestEngine_ConflictRemoteWins(t *testing.T) {
	f := apiKeyFixture(t)
	ctx := context.Background()
	a, _ := dial(t, f.config(), withoutRealtime(t))
	b, recB := dial(t, f.config(), withoutRealtime(t))

	todo := createLocal(t, a, "shared")
	_, err := a.Sync(ctx)
	require.NoError(t, err)
	_, err = b.Sync(ctx)
	require.NoError(t, err)

	_, err = a.Update(ctx, todo.ID, model.Fields{Name: model.String("from a")}, 1)
	require.NoError(t, err)
	_, err = a.Sync(ctx)
	require.NoError(t, err)

	_, err = b.Update(ctx, todo.ID, model.Fields{Name: model.String("from b")}, 1)
	require.NoError(t, err)
	_, _, err = b.Delete(ctx, todo.ID)
	require.NoError(t, err)
	res, err := b.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Pending)

	got, err := b.Get(ctx, todo.ID)
	require.NoError(t, err)
	assert.Equal(t, "from a", got.Name)
	assert.False(t, got.Deleted)
	assert.EqualValues(t, 2, got.Version)

	errs := recB.Errors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], model.ErrVersionConflict)

	events := recB.Events()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, model.ChangeUpdate, last.Kind)
	assert.Equal(t, "from a", last.Record.Name)
}

func TestEngine_RejectedMutationIsDropped(t *testing.T) {
	f := apiKeyFixture(t)
	ctx := context.Background()
	a, rec := dial(t, f.config(), withoutRealtime(t))

	f.gate.rejectCreate.Store(true)
	todo := createLocal(t, a, "reserved")
	_, err := a.Sync(ctx)
	if err != nil {
		assert.ErrorIs(t, err, model.ErrRemoteRejected)
	}

	require.Len(t, rec.Errors(), 1)
	assert.ErrorIs(t, rec.Errors()[0], model.ErrRemoteRejected)

	pending, err := a.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending.Pending)

	// The optimistic local view stays
	got, err := a.Get(ctx, todo.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Version)
	assert.Equal(t, "reserved", got.Name)
}

func TestEngine_OfflineKeepsOutbox(t *testing.T) {
	f := apiKeyFixture(t)
	ctx := context.Background()
	a, _ := dial(t, f.config(), withoutRealtime(t))

	f.gate.down.Store(true)
	todo := createLocal(t, a, "offline")
	res, err := a.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, res.Offline)
	assert.Equal(t, 1, res.Pending)

	f.gate.down.Store(false)
	res, err = a.Sync(ctx)
	require.NoError(t, err)
	assert.False(t, res.Offline)
	assert.Zero(t, res.Pending)

	got, err := a.Get(ctx, todo.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.Version)
}

func TestEngine_PullPages(t *testing.T) {
	f := apiKeyFixture(t)
	ctx := context.Background()

	writer := tsync.NewClient(f.ts.URL, tsync.APIKeySigner{Key: apiKey}, nil)
	for i := 0; i < 250; i++ {
		_, err := writer.CreateTodo(ctx, tsync.CreateTodoInput{ID: fmt.Sprintf("todo-%03d", i), Name: fmt.Sprintf("todo %d", i)})
		require.NoError(t, err)
	}

	b, _ := dial(t, f.config(), withoutRealtime(t))
	_, err := b.Sync(ctx)
	require.NoError(t, err)

	all, err := b.Query(ctx, model.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 250)
}

func TestEngine_RealtimeMergesRemoteChanges(t *testing.T) {
	f := apiKeyFixture(t)
	ctx := context.Background()
	_, rec := dial(t, f.config(), schema.Default())
	require.Eventually(t, func() bool { return f.srv.Hub().Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	writer := tsync.NewClient(f.ts.URL, tsync.APIKeySigner{Key: apiKey}, nil)
	created, err := writer.CreateTodo(ctx, tsync.CreateTodoInput{ID: "rt-1", Name: "pushed"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(rec.Events()) == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err = writer.DeleteTodo(ctx, tsync.DeleteTodoInput{ID: "rt-1", Version: created.Version})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(rec.Events()) >= 2 }, 2*time.Second, 10*time.Millisecond)
	events := rec.Events()
	assert.Equal(t, model.ChangeCreate, events[0].Kind)
	assert.Equal(t, model.ChangeDelete, events[1].Kind)
	assert.True(t, events[1].Record.Deleted)
}

func TestEngine_DroppedStreamTerminatesThenReconnects(t *testing.T) {
	f := apiKeyFixture(t)
	_, rec := dial(t, f.config(), schema.Default())
	require.Eventually(t, func() bool { return f.srv.Hub().Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	f.srv.Hub().DisconnectAll()

	require.Eventually(t, func() bool { return rec.Terminated() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return f.srv.Hub().Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_IAMSignedRequests(t *testing.T) {
	f := newFixture(t, server.Config{
		AuthMode:       server.AuthIAM,
		IAMCredentials: map[string]string{"AKID": "s3cr3t"},
	})
	ctx := context.Background()

	cfg := f.config()
	cfg.API.AuthMode = config.AuthIAM
	cfg.API.AccessKeyID = "AKID"
	cfg.API.SecretAccessKey = "s3cr3t"
	a, _ := dial(t, cfg, schema.Default())

	todo := createLocal(t, a, "signed")
	res, err := a.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Pending)
	got, err := a.Get(ctx, todo.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.Version)

	cfg.API.SecretAccessKey = "wrong"
	_, err = tsync.Dial(ctx, cfg, tsync.DialOptions{Sink: &recorder{}})
	assert.ErrorIs(t, err, model.ErrRemoteRejected)
}

func TestEngine_UserPoolLogin(t *testing.T) {
	f := newFixture(t, server.Config{AuthMode: server.AuthUserPool})
	ctx := context.Background()

	_, err := tsync.NewClient(f.ts.URL, nil, nil).Register(ctx, "ada", "correct horse")
	require.NoError(t, err)

	cfg := f.config()
	cfg.API.AuthMode = config.AuthUserPool
	cfg.API.Username = "ada"
	cfg.API.Password = "correct horse"
	a, _ := dial(t, cfg, withoutRealtime(t))

	createLocal(t, a, "mine")
	res, err := a.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Pending)

	cfg.API.Password = "wrong password"
	_, err = tsync.Dial(ctx, cfg, tsync.DialOptions{Sink: &recorder{}})
	assert.Error(t, err)
}
