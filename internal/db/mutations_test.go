package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/existflow/todosync/internal/model"
)

// ack simulates the remote accepting a mutation
func ack(m Mutation, version int64) model.Todo {
	t := m.Record
	t.Version = version
	return t
}

func TestCreateLocal_QueuesMutation(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()

	m, err := db.CreateLocal(ctx, newTodo("a", "first"))
	require.NoError(t, err)
	assert.Equal(t, model.ChangeCreate, m.Kind)
	assert.NotZero(t, m.Seq)

	_, err = db.CreateLocal(ctx, newTodo("a", "again"))
	assert.ErrorIs(t, err, model.ErrInvalidRecord)

	pending, err := db.PendingMutations(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "first", pending[0].Record.Name)

	ok, err := db.HasPending(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUpdateLocal(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	_, err := db.CreateLocal(ctx, newTodo("a", "first"))
	require.NoError(t, err)

	updated, err := db.UpdateLocal(ctx, "a", model.Fields{Priority: model.PriorityOf(model.PriorityHigh)}, 0)
	require.NoError(t, err)
	assert.Equal(t, "first", updated.Name)
	assert.Equal(t, model.PriorityHigh, updated.Priority)

	_, err = db.UpdateLocal(ctx, "missing", model.Fields{Name: model.String("x")}, 0)
	assert.ErrorIs(t, err, model.ErrNotFound)

	pending, err := db.PendingMutations(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, model.ChangeUpdate, pending[1].Kind)
	require.NotNil(t, pending[1].Fields.Priority)
	assert.Nil(t, pending[1].Fields.Name)
}

func TestDeleteLocal_Tombstone(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	_, err := db.CreateLocal(ctx, newTodo("a", "first"))
	require.NoError(t, err)

	tomb, changed, err := db.DeleteLocal(ctx, "a")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, tomb.Deleted)

	_, changed, err = db.DeleteLocal(ctx, "a")
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = db.UpdateLocal(ctx, "a", model.Fields{Name: model.String("x")}, 0)
	assert.ErrorIs(t, err, model.ErrNotFound)

	n, err := db.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := db.GetTodo(ctx, "a")
	require.NoError(t, err)
	assert.True(t, got.Deleted)
}

func TestCompleteMutation_RebasesQueuedEdits(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()

	create, err := db.CreateLocal(ctx, newTodo("a", "first"))
	require.NoError(t, err)
	_, err = db.UpdateLocal(ctx, "a", model.Fields{Name: model.String("second")}, 0)
	require.NoError(t, err)

	stored, changed, err := db.CompleteMutation(ctx, create.Seq, ack(create, 1))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, "second", stored.Name)
	assert.Equal(t, int64(1), stored.Version)

	pending, err := db.PendingMutations(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(1), pending[0].ExpectedVersion)

	stored, changed, err = db.CompleteMutation(ctx, pending[0].Seq, ack(pending[0], 2))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, int64(2), stored.Version)

	ok, err := db.HasPending(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCompleteMutation_ReportsRemoteChanges(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()

	create, err := db.CreateLocal(ctx, newTodo("a", "  first  "))
	require.NoError(t, err)
	accepted := ack(create, 1)
	accepted.Description = model.String("set by remote")

	stored, changed, err := db.CompleteMutation(ctx, create.Seq, accepted)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "set by remote", stored.DescriptionText())
}

func TestResolveConflict_RemoteWins(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()

	remote := newTodo("a", "remote")
	remote.Version = 3
	require.NoError(t, putTodo(ctx, db, remote))

	_, err := db.UpdateLocal(ctx, "a", model.Fields{Name: model.String("mine")}, 2)
	require.NoError(t, err)
	_, err = db.UpdateLocal(ctx, "a", model.Fields{Name: model.String("mine again")}, 2)
	require.NoError(t, err)
	other, err := db.CreateLocal(ctx, newTodo("b", "other"))
	require.NoError(t, err)

	pending, err := db.PendingMutations(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)

	current := remote
	current.Version = 4
	current.Name = "theirs"
	kind, dropped, err := db.ResolveConflict(ctx, pending[0].Seq, current)
	require.NoError(t, err)
	assert.Equal(t, model.ChangeUpdate, kind)
	assert.Equal(t, 2, dropped)

	got, err := db.GetTodo(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "theirs", got.Name)
	assert.Equal(t, int64(4), got.Version)

	pending, err = db.PendingMutations(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, other.Seq, pending[0].Seq)
}

func TestDropMutation(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	m, err := db.CreateLocal(ctx, newTodo("a", "first"))
	require.NoError(t, err)

	require.NoError(t, db.DropMutation(ctx, m.Seq))
	assert.ErrorIs(t, db.DropMutation(ctx, m.Seq), model.ErrNotFound)

	// The optimistic record stays
	_, err = db.GetTodo(ctx, "a")
	assert.NoError(t, err)
}

func TestMergeRemote(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()

	r := newTodo("r", "remote")
	r.Version = 1
	kind, applied, err := db.MergeRemote(ctx, r)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, model.ChangeCreate, kind)

	// Same version again is an echo
	_, applied, err = db.MergeRemote(ctx, r)
	require.NoError(t, err)
	assert.False(t, applied)

	r.Version = 2
	r.Name = "renamed"
	kind, applied, err = db.MergeRemote(ctx, r)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, model.ChangeUpdate, kind)

	r.Version = 3
	r.Deleted = true
	kind, applied, err = db.MergeRemote(ctx, r)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, model.ChangeDelete, kind)

	r.Version = 4
	_, applied, err = db.MergeRemote(ctx, r)
	require.NoError(t, err)
	assert.False(t, applied)
	got, err := db.GetTodo(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.Version)
}

func TestMergeRemote_SkipsRecordsWithQueuedMutations(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	_, err := db.CreateLocal(ctx, newTodo("a", "local"))
	require.NoError(t, err)

	remote := newTodo("a", "remote")
	remote.Version = 5
	_, applied, err := db.MergeRemote(ctx, remote)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := db.GetTodo(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "local", got.Name)
}

func TestMergeRemote_TombstoneForUnknownRecord(t *testing.T) {
	db := openTest(t)
	r := newTodo("gone", "gone")
	r.Version = 2
	r.Deleted = true
	kind, applied, err := db.MergeRemote(context.Background(), r)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, model.ChangeDelete, kind)
}
