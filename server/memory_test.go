package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/existflow/todosync/internal/model"
)

func TestMemoryStore_ClockIsStrictlyMonotonic(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var last int64
	for i := 0; i < 50; i++ {
		created, err := s.CreateTodo(ctx, model.NewTodo(string(rune('a'+i%26))+string(rune('a'+i/26)), model.Fields{Name: model.String("x")}))
		require.NoError(t, err)
		assert.Greater(t, created.LastChangedAt, last)
		last = created.LastChangedAt
	}
	clock, err := s.Clock(ctx)
	require.NoError(t, err)
	assert.Equal(t, last, clock)
}

func TestMemoryStore_ChangedTodosWindow(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a, err := s.CreateTodo(ctx, model.NewTodo("a", model.Fields{Name: model.String("a")}))
	require.NoError(t, err)
	b, err := s.CreateTodo(ctx, model.NewTodo("b", model.Fields{Name: model.String("b")}))
	require.NoError(t, err)
	a2, err := s.MutateTodo(ctx, "a", 1, func(t *model.Todo) error {
		t.Name = "a2"
		return nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, a2.Version)

	changed, err := s.ChangedTodos(ctx, ChangeCursor{At: a.LastChangedAt}, a2.LastChangedAt)
	require.NoError(t, err)
	require.Len(t, changed, 2)
	assert.Equal(t, "b", changed[0].ID)
	assert.Equal(t, "a2", changed[1].Name)

	changed, err = s.ChangedTodos(ctx, ChangeCursor{}, b.LastChangedAt)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, "b", changed[0].ID)

	changed, err = s.ChangedTodos(ctx, ChangeCursor{At: b.LastChangedAt, ID: "b"}, a2.LastChangedAt)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, "a", changed[0].ID)
}

func TestChangeCursor_Precedes(t *testing.T) {
	at := func(ms int64, id string) model.Todo { return model.Todo{ID: id, LastChangedAt: ms} }

	start := ChangeCursor{At: 10}
	assert.False(t, start.Precedes(at(10, "a")))
	assert.True(t, start.Precedes(at(11, "a")))

	mid := ChangeCursor{At: 10, ID: "b"}
	assert.False(t, mid.Precedes(at(10, "a")))
	assert.False(t, mid.Precedes(at(10, "b")))
	assert.True(t, mid.Precedes(at(10, "c")))
	assert.False(t, mid.Precedes(at(9, "z")))
}

func TestMemoryStore_VersionChecks(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.CreateTodo(ctx, model.NewTodo("a", model.Fields{Name: model.String("a")}))
	require.NoError(t, err)

	_, err = s.CreateTodo(ctx, model.NewTodo("a", model.Fields{Name: model.String("again")}))
	var conflict *model.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "a", conflict.Current.Name)

	_, err = s.MutateTodo(ctx, "a", 5, func(*model.Todo) error { return nil })
	require.ErrorAs(t, err, &conflict)
	assert.EqualValues(t, 1, conflict.Current.Version)

	_, err = s.MutateTodo(ctx, "missing", 0, func(*model.Todo) error { return nil })
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestMemoryStore_Users(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	u, err := s.CreateUser(ctx, model.User{Username: "ada", PasswordHash: "hash"})
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)

	_, err = s.CreateUser(ctx, model.User{Username: "ada"})
	assert.ErrorIs(t, err, ErrUserExists)

	got, err := s.GetUserByUsername(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	require.NoError(t, s.CreateSession(ctx, model.Session{Token: "t", UserID: u.ID}))
	sess, err := s.GetSession(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, u.ID, sess.UserID)

	_, err = s.GetSession(ctx, "other")
	assert.Error(t, err)
}
