package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/existflow/todosync/internal/model"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open(MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTodo(id, name string) model.Todo {
	return model.NewTodo(id, model.Fields{Name: model.String(name)})
}

func TestOpen_CreatesFileAndReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "todos.db")
	ctx := context.Background()

	db, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, path, db.Path())
	_, err = db.CreateLocal(ctx, newTodo("a", "first"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	got, err := db.GetTodo(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Name)

	n, err := db.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGetTodo_NotFound(t *testing.T) {
	db := openTest(t)
	_, err := db.GetTodo(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestPutTodo_RoundTripsEveryColumn(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()

	now := time.Date(2024, 5, 1, 12, 30, 0, 123_000_000, time.UTC)
	in := model.Todo{
		ID:            "x",
		Name:          "write tests",
		Description:   model.String("with testify"),
		Priority:      model.PriorityHigh,
		Version:       7,
		Deleted:       true,
		LastChangedAt: now.UnixMilli(),
		CreatedAt:     now.Add(-time.Hour),
		UpdatedAt:     now,
	}
	require.NoError(t, putTodo(ctx, db, in))

	got, err := db.GetTodo(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, in, got)

	in.Description = nil
	in.Priority = model.PriorityUnset
	require.NoError(t, putTodo(ctx, db, in))
	got, err = db.GetTodo(ctx, "x")
	require.NoError(t, err)
	assert.Nil(t, got.Description)
	assert.Equal(t, model.PriorityUnset, got.Priority)
}

func TestLastSync(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()

	ts, err := db.LastSync(ctx)
	require.NoError(t, err)
	assert.Zero(t, ts)

	require.NoError(t, db.SetLastSync(ctx, 1700000000000))
	require.NoError(t, db.SetLastSync(ctx, 1700000000500))
	ts, err = db.LastSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000500), ts)
}
