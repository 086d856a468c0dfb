package server

import (
	"context"
	"errors"
	"time"

	"github.com/existflow/todosync/internal/model"
)

// ErrUserExists is returned when registering a taken username
var ErrUserExists = errors.New("username already exists")

// MutateFunc changes a stored record in place
type MutateFunc func(t *model.Todo) error

// Store is the server-side record store. Every accepted write bumps the
// record version by one and stamps it with the next value of the store clock.
type Store interface {
	// GetTodo returns a record, tombstones included
	GetTodo(ctx context.Context, id string) (model.Todo, error)
	// ListTodos returns the records matching a normalized filter, ordered by createdAt, id
	ListTodos(ctx context.Context, filter model.Filter) ([]model.Todo, error)
	// ChangedTodos returns the records positioned after the cursor with
	// _lastChangedAt <= until, ordered by _lastChangedAt, id
	ChangedTodos(ctx context.Context, after ChangeCursor, until int64) ([]model.Todo, error)
	// CreateTodo stores a new record at version 1. An existing id is a
	// ConflictError carrying the stored record.
	CreateTodo(ctx context.Context, t model.Todo) (model.Todo, error)
	// MutateTodo applies fn when the stored version equals expected, otherwise
	// it returns a ConflictError carrying the stored record.
	MutateTodo(ctx context.Context, id string, expected int64, fn MutateFunc) (model.Todo, error)
	// Clock returns the last value handed out by the store clock
	Clock(ctx context.Context) (int64, error)

	CreateUser(ctx context.Context, u model.User) (model.User, error)
	GetUserByUsername(ctx context.Context, username string) (model.User, error)
	CreateSession(ctx context.Context, s model.Session) error
	GetSession(ctx context.Context, token string) (model.Session, error)

	Close() error
}

// ChangeCursor is a position in (_lastChangedAt, id) order. With an empty ID
// it sits after every record changed at or before At.
type ChangeCursor struct {
	At int64
	ID string
}

// Precedes reports whether t sorts after the cursor
func (c ChangeCursor) Precedes(t model.Todo) bool {
	if t.LastChangedAt != c.At {
		return t.LastChangedAt > c.At
	}
	return c.ID != "" && t.ID > c.ID
}

// stamp moves the record to its next accepted revision
func stamp(t *model.Todo, clock int64) {
	t.Version++
	t.LastChangedAt = clock
	t.UpdatedAt = time.UnixMilli(clock).UTC()
}

// nextClock returns a clock value that is later than last and not behind the wall clock
func nextClock(last int64) int64 {
	now := time.Now().UnixMilli()
	if now <= last {
		return last + 1
	}
	return now
}
