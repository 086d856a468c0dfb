package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/existflow/todosync/internal/model"
)

// PostgresStore keeps records, users and sessions in PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects to dbURL and runs the migrations
func OpenPostgres(dbURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

const todoColumns = `id, name, description, priority, version, deleted, last_changed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTodo(r rowScanner) (model.Todo, error) {
	var (
		t           model.Todo
		description sql.NullString
		priority    sql.NullInt64
		created     int64
		updated     int64
	)
	if err := r.Scan(&t.ID, &t.Name, &description, &priority, &t.Version, &t.Deleted, &t.LastChangedAt, &created, &updated); err != nil {
		return model.Todo{}, err
	}
	if description.Valid {
		d := description.String
		t.Description = &d
	}
	if priority.Valid {
		t.Priority = model.Priority(priority.Int64)
	}
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
	return []any{t.ID, t.Name, description, priority, t.Version, t.Deleted,
		t.LastChangedAt, t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli()}
}

func (s *PostgresStore) GetTodo(ctx context.Context, id string) (model.Todo, error) {
	t, err := scanTodo(s.db.QueryRowContext(ctx, `SELECT `+todoColumns+` FROM todos WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Todo{}, fmt.Errorf("todo %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Todo{}, fmt.Errorf("failed to get todo: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]model.Todo, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query todos: %w", err)
	}
	defer rows.Close()

	out := []model.Todo{}
	for rows.Next() {
		t, err := scanTodo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan todo: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListTodos narrows the scan to live rows in SQL and evaluates the filter in memory
func (s *PostgresStore) ListTodos(ctx context.Context, filter model.Filter) ([]model.Todo, error) {
	q := `SELECT ` + todoColumns + ` FROM todos`
	if !filter.IncludeDeleted {
		q += ` WHERE NOT deleted`
	}
	all, err := s.query(ctx, q+` ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, t := range all {
		if filter.Match(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *PostgresStore) ChangedTodos(ctx context.Context, after ChangeCursor, until int64) ([]model.Todo, error) {
	return s.query(ctx, `
		SELECT `+todoColumns+` FROM todos
		WHERE (last_changed_at > $1 OR (last_changed_at = $1 AND $2 <> '' AND id > $2))
		  AND last_changed_at <= $3
		ORDER BY last_changed_at, id`, after.At, after.ID, until)
}

// tick advances the store clock inside tx
func tick(ctx context.Context, tx *sql.Tx) (int64, error) {
	var clock int64
	err := tx.QueryRowContext(ctx, `
		UPDATE todo_clock SET value = GREATEST(value + 1, $1)
		WHERE id = 1
		RETURNING value`, time.Now().UnixMilli(),
	).Scan(&clock)
	if err != nil {
		return 0, fmt.Errorf("failed to advance clock: %w", err)
	}
	return clock, nil
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) CreateTodo(ctx context.Context, t model.Todo) (model.Todo, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanTodo(tx.QueryRowContext(ctx, `SELECT `+todoColumns+` FROM todos WHERE id = $1 FOR UPDATE`, t.ID))
		if err == nil {
			return &model.ConflictError{Current: existing}
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to check todo: %w", err)
		}

		clock, err := tick(ctx, tx)
		if err != nil {
			return err
		}
		t.Version = 0
		t.Deleted = false
		stamp(&t, clock)
		t.CreatedAt = t.UpdatedAt

		_, err = tx.ExecContext(ctx, `INSERT INTO todos (`+todoColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, todoArgs(t)...)
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return &model.ConflictError{Current: t}
		}
		if err != nil {
			return fmt.Errorf("failed to insert todo: %w", err)
		}
		return nil
	})
	return t, err
}

func (s *PostgresStore) MutateTodo(ctx context.Context, id string, expected int64, fn MutateFunc) (model.Todo, error) {
	var t model.Todo
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		t, err = scanTodo(tx.QueryRowContext(ctx, `SELECT `+todoColumns+` FROM todos WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("todo %s: %w", id, model.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to get todo: %w", err)
		}
		if t.Version != expected {
			return &model.ConflictError{Current: t}
		}
		if err := fn(&t); err != nil {
			return err
		}

		clock, err := tick(ctx, tx)
		if err != nil {
			return err
		}
		stamp(&t, clock)

		args := todoArgs(t)
		_, err = tx.ExecContext(ctx, `
			UPDATE todos SET name = $2, description = $3, priority = $4, version = $5,
				deleted = $6, last_changed_at = $7, created_at = $8, updated_at = $9
			WHERE id = $1`, args...)
		if err != nil {
			return fmt.Errorf("failed to update todo: %w", err)
		}
		return nil
	})
	return t, err
}

func (s *PostgresStore) Clock(ctx context.Context) (int64, error) {
	var clock int64
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM todo_clock WHERE id = 1`).Scan(&clock); err != nil {
		return 0, fmt.Errorf("failed to read clock: %w", err)
	}
	return clock, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, u model.User) (model.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, username, password_hash)
		VALUES ($1, $2, $3)
		RETURNING created_at`,
		u.ID, u.Username, u.PasswordHash,
	).Scan(&u.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "unique") {
			return model.User{}, ErrUserExists
		}
		return model.User{}, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	var u model.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at FROM users WHERE username = $1`,
		username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, fmt.Errorf("user %s: %w", username, model.ErrNotFound)
	}
	if err != nil {
		return model.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess model.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (token, user_id, expires_at)
		VALUES ($1, $2, $3)`,
		sess.Token, sess.UserID, sess.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, token string) (model.Session, error) {
	sess := model.Session{Token: token}
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, expires_at, created_at FROM sessions WHERE token = $1`,
		token,
	).Scan(&sess.UserID, &sess.ExpiresAt, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, fmt.Errorf("session: %w", model.ErrNotFound)
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
