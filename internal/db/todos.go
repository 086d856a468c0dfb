package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/existflow/todosync/internal/model"
)

const todoColumns = `id, name, description, priority, version, deleted, last_changed_at, created_at, updated_at`

// queryer is satisfied by *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTodo(s scanner) (model.Todo, error) {
	var (
		t           model.Todo
		description sql.NullString
		priority    sql.NullInt64
		deleted     int64
		created     int64
		updated     int64
	)
	if err := s.Scan(&t.ID, &t.Name, &description, &priority, &t.Version, &deleted, &t.LastChangedAt, &created, &updated); err != nil {
		return model.Todo{}, err
	}
	if description.Valid {
		d := description.String
		t.Description = &d
	}
	if priority.Valid {
		t.Priority = model.Priority(priority.Int64)
	}
	t.Deleted = deleted != 0
	t.CreatedAt = time.UnixMilli(created).UTC()
	t.UpdatedAt = time.UnixMilli(updated).UTC()
	return t, nil
}

func todoArgs(t model.Todo) []any {
	var description, priority any
	if t.Description != nil {
		description = *t.Description
	}
	if t.Priority != model.PriorityUnset {
		priority = int64(t.Priority)
	}
	deleted := int64(0)
	if t.Deleted {
		deleted = 1
	}
	return []any{t.ID, t.Name, description, priority, t.Version, deleted,
		t.LastChangedAt, t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli()}
}

func getTodo(ctx context.Context, q queryer, id string) (model.Todo, error) {
	row := q.QueryRowContext(ctx, `SELECT `+todoColumns+` FROM todos WHERE id = ?`, id)
	t, err := scanTodo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Todo{}, fmt.Errorf("todo %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Todo{}, fmt.Errorf("failed to get todo: %w", err)
	}
	return t, nil
}

func putTodo(ctx context.Context, q queryer, t model.Todo) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO todos (`+todoColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			priority = excluded.priority,
			version = excluded.version,
			deleted = excluded.deleted,
			last_changed_at = excluded.last_changed_at,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		todoArgs(t)...,
	)
	if err != nil {
		return fmt.Errorf("failed to save todo: %w", err)
	}
	return nil
}

// GetTodo returns a record by id, tombstones included
func (db *DB) GetTodo(ctx context.Context, id string) (model.Todo, error) {
	return getTodo(ctx, db, id)
}

// ListTodos returns the records matching a normalized filter, oldest first
func (db *DB) ListTodos(ctx context.Context, filter model.Filter) ([]model.Todo, error) {
	where, args, err := compileFilter(filter)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT `+todoColumns+` FROM todos`+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list todos: %w", err)
	}
	defer rows.Close()

	todos := []model.Todo{}
	for rows.Next() {
		t, err := scanTodo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan todo: %w", err)
		}
		todos = append(todos, t)
	}
	return todos, rows.Err()
}

// inTx runs fn inside a transaction
func (db *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// CreateLocal stores a new optimistic record and queues its create mutation
func (db *DB) CreateLocal(ctx context.Context, t model.Todo) (Mutation, error) {
	var m Mutation
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := getTodo(ctx, tx, t.ID); err == nil {
			return fmt.Errorf("%w: id %s already exists", model.ErrInvalidRecord, t.ID)
		} else if !errors.Is(err, model.ErrNotFound) {
			return err
		}
		if err := putTodo(ctx, tx, t); err != nil {
			return err
		}
		var err error
		m, err = enqueue(ctx, tx, Mutation{TodoID: t.ID, Kind: model.ChangeCreate, Record: t})
		return err
	})
	return m, err
}

// UpdateLocal applies fields to a live record and queues the update mutation
func (db *DB) UpdateLocal(ctx context.Context, id string, fields model.Fields, expectedVersion int64) (model.Todo, error) {
	var updated model.Todo
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		t, err := getTodo(ctx, tx, id)
		if err != nil {
			return err
		}
		if t.Deleted {
			return fmt.Errorf("todo %s is deleted: %w", id, model.ErrNotFound)
		}

		fields.Apply(&t)
		now := time.Now().UTC().Truncate(time.Millisecond)
		t.UpdatedAt = now
		t.LastChangedAt = now.UnixMilli()
		if err := putTodo(ctx, tx, t); err != nil {
			return err
		}

		_, err = enqueue(ctx, tx, Mutation{
			TodoID:          id,
			Kind:            model.ChangeUpdate,
			Record:          t,
			Fields:          fields,
			ExpectedVersion: expectedVersion,
		})
		updated = t
		return err
	})
	return updated, err
}

// DeleteLocal turns a record into a tombstone and queues the delete mutation.
// It reports false when the record was already deleted.
func (db *DB) DeleteLocal(ctx context.Context, id string) (model.Todo, bool, error) {
	var (
		tomb    model.Todo
		changed bool
	)
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		t, err := getTodo(ctx, tx, id)
		if err != nil {
			return err
		}
		tomb = t
		if t.Deleted {
			return nil
		}

		t.MarkDeleted()
		if err := putTodo(ctx, tx, t); err != nil {
			return err
		}
		_, err = enqueue(ctx, tx, Mutation{
			TodoID:          id,
			Kind:            model.ChangeDelete,
			Record:          t,
			ExpectedVersion: t.Version,
		})
		tomb = t
		changed = true
		return err
	})
	return tomb, changed, err
}

// MergeRemote applies a record received from the remote. The record is
// skipped when the stored version is not older, or when local mutations for
// it are still queued (their acknowledgement will reconcile it). The returned
// kind describes the visible change; applied is false when nothing changed.
func (db *DB) MergeRemote(ctx context.Context, remote model.Todo) (model.ChangeKind, bool, error) {
	var (
		kind    model.ChangeKind
		applied bool
	)
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		pending, err := hasPending(ctx, tx, remote.ID)
		if err != nil {
			return err
		}
		if pending {
			return nil
		}

		local, err := getTodo(ctx, tx, remote.ID)
		switch {
		case errors.Is(err, model.ErrNotFound):
			kind = model.ChangeCreate
			if remote.Deleted {
				kind = model.ChangeDelete
			}
		case err != nil:
			return err
		case remote.Version <= local.Version:
			return nil
		case remote.Deleted && local.Deleted:
			// Tombstone bookkeeping only
			return putTodo(ctx, tx, remote)
		case remote.Deleted:
			kind = model.ChangeDelete
		default:
			kind = model.ChangeUpdate
		}

		if err := putTodo(ctx, tx, remote); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return kind, applied, err
}

// CountTodos returns the number of stored records, tombstones included
func (db *DB) CountTodos(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM todos`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count todos: %w", err)
	}
	return n, nil
}
