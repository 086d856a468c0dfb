package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/existflow/todosync/internal/model"
)

// Mutation is one queued local write waiting to be replayed against the remote
type Mutation struct {
	Seq    int64
	TodoID string
	Kind   model.ChangeKind
	// Record is the local state right after the write
	Record model.Todo
	// Fields holds the changed fields of an update
	Fields          model.Fields
	ExpectedVersion int64
	CreatedAt       time.Time
}

type mutationPayload struct {
	Record model.Todo   `json:"record"`
	Fields model.Fields `json:"fields"`
}

func enqueue(ctx context.Context, q queryer, m Mutation) (Mutation, error) {
	payload, err := json.Marshal(mutationPayload{Record: m.Record, Fields: m.Fields})
	if err != nil {
		return Mutation{}, fmt.Errorf("failed to encode mutation: %w", err)
	}
	m.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)

	res, err := q.ExecContext(ctx, `
		INSERT INTO mutations (todo_id, kind, payload, expected_version, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		m.TodoID, string(m.Kind), string(payload), m.ExpectedVersion, m.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return Mutation{}, fmt.Errorf("failed to queue mutation: %w", err)
	}
	if m.Seq, err = res.LastInsertId(); err != nil {
		return Mutation{}, fmt.Errorf("failed to read mutation seq: %w", err)
	}
	return m, nil
}

func scanMutation(s scanner) (Mutation, error) {
	var (
		m       Mutation
		kind    string
		payload string
		created int64
	)
	if err := s.Scan(&m.Seq, &m.TodoID, &kind, &payload, &m.ExpectedVersion, &created); err != nil {
		return Mutation{}, err
	}
	var p mutationPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return Mutation{}, fmt.Errorf("failed to decode mutation %d: %w", m.Seq, err)
	}
	m.Kind = model.ChangeKind(kind)
	m.Record = p.Record
	m.Fields = p.Fields
	m.CreatedAt = time.UnixMilli(created).UTC()
	return m, nil
}

const mutationColumns = `seq, todo_id, kind, payload, expected_version, created_at`

func getMutation(ctx context.Context, q queryer, seq int64) (Mutation, error) {
	row := q.QueryRowContext(ctx, `SELECT `+mutationColumns+` FROM mutations WHERE seq = ?`, seq)
	m, err := scanMutation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Mutation{}, fmt.Errorf("mutation %d: %w", seq, model.ErrNotFound)
	}
	if err != nil {
		return Mutation{}, fmt.Errorf("failed to get mutation: %w", err)
	}
	return m, nil
}

func hasPending(ctx context.Context, q queryer, id string) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM mutations WHERE todo_id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check pending mutations: %w", err)
	}
	return n > 0, nil
}

// PendingMutations returns the outbox in issue order
func (db *DB) PendingMutations(ctx context.Context) ([]Mutation, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+mutationColumns+` FROM mutations ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to list mutations: %w", err)
	}
	defer rows.Close()

	var out []Mutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PendingCount returns the outbox length
func (db *DB) PendingCount(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mutations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count mutations: %w", err)
	}
	return n, nil
}

// HasPending returns true if any mutation for the record is still queued
func (db *DB) HasPending(ctx context.Context, id string) (bool, error) {
	return hasPending(ctx, db, id)
}

// CompleteMutation removes an acknowledged mutation and stores the accepted
// record. Later queued mutations for the same record that were issued against
// the pre-ack version are moved onto the accepted version, and the local edits
// they carry stay visible. It returns the stored record and whether its
// visible content changed.
func (db *DB) CompleteMutation(ctx context.Context, seq int64, accepted model.Todo) (model.Todo, bool, error) {
	var (
		stored  model.Todo
		changed bool
	)
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		m, err := getMutation(ctx, tx, seq)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM mutations WHERE seq = ?`, seq); err != nil {
			return fmt.Errorf("failed to remove mutation: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE mutations SET expected_version = ?
			WHERE todo_id = ? AND seq > ? AND expected_version = ?`,
			accepted.Version, m.TodoID, seq, m.ExpectedVersion,
		); err != nil {
			return fmt.Errorf("failed to rebase mutations: %w", err)
		}

		local, err := getTodo(ctx, tx, m.TodoID)
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return err
		}
		found := err == nil

		pending, err := hasPending(ctx, tx, m.TodoID)
		if err != nil {
			return err
		}

		stored = accepted
		if pending && found {
			// Keep the newer local edits; only the remote bookkeeping moves
			stored = local
			stored.Version = accepted.Version
			stored.CreatedAt = accepted.CreatedAt
		}
		if found && stored.Version < local.Version {
			// A remote delta already moved the record past this ack
			stored = local
		}
		changed = !found || !local.SameContent(stored)
		return putTodo(ctx, tx, stored)
	})
	return stored, changed, err
}

// DropMutation removes a mutation without touching the local record
func (db *DB) DropMutation(ctx context.Context, seq int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM mutations WHERE seq = ?`, seq)
	if err != nil {
		return fmt.Errorf("failed to drop mutation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mutation %d: %w", seq, model.ErrNotFound)
	}
	return nil
}

// ResolveConflict applies the remote-wins outcome of a rejected mutation: the
// conflicting mutation and every later one queued for the same record are
// dropped and the remote state replaces the local one. It returns the kind of
// the visible change and the number of mutations dropped.
func (db *DB) ResolveConflict(ctx context.Context, seq int64, remote model.Todo) (model.ChangeKind, int, error) {
	var (
		kind    model.ChangeKind
		dropped int
	)
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		m, err := getMutation(ctx, tx, seq)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM mutations WHERE todo_id = ? AND seq >= ?`, m.TodoID, seq)
		if err != nil {
			return fmt.Errorf("failed to drop conflicting mutations: %w", err)
		}
		n, _ := res.RowsAffected()
		dropped = int(n)

		kind = model.ChangeUpdate
		if remote.Deleted {
			kind = model.ChangeDelete
		}
		return putTodo(ctx, tx, remote)
	})
	return kind, dropped, err
}

const lastSyncKey = "last_sync"

// LastSync returns the delta-sync cursor in unix milliseconds, 0 if never synced
func (db *DB) LastSync(ctx context.Context) (int64, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, lastSyncKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read sync cursor: %w", err)
	}
	ts, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid sync cursor %q: %w", value, err)
	}
	return ts, nil
}

// SetLastSync stores the delta-sync cursor
func (db *DB) SetLastSync(ctx context.Context, ts int64) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO sync_state (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		lastSyncKey, strconv.FormatInt(ts, 10),
	)
	if err != nil {
		return fmt.Errorf("failed to save sync cursor: %w", err)
	}
	return nil
}
