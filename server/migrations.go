package server

import "fmt"

// migrate runs database migrations
func (s *PostgresStore) migrate() error {
	migrations := []string{
		migrationUsers,
		migrationSessions,
		migrationTodos,
		migrationClock,
	}

	for i, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	return nil
}

const migrationUsers = `
CREATE TABLE IF NOT EXISTS users (
    id UUID PRIMARY KEY,
    username VARCHAR(255) UNIQUE NOT NULL,
    password_hash VARCHAR(255) NOT NULL,
    created_at TIMESTAMPTZ DEFAULT NOW()
);
`

const migrationSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    token VARCHAR(64) PRIMARY KEY,
    user_id UUID NOT NULL REFERENCES users(id),
    expires_at TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ DEFAULT NOW()
);
`

// Timestamps are unix milliseconds, the unit of _lastChangedAt
const migrationTodos = `
CREATE TABLE IF NOT EXISTS todos (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    priority SMALLINT,
    version BIGINT NOT NULL,
    deleted BOOLEAN NOT NULL DEFAULT FALSE,
    last_changed_at BIGINT NOT NULL,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_todos_changed ON todos(last_changed_at, id);
CREATE INDEX IF NOT EXISTS idx_todos_created ON todos(created_at, id);
`

const migrationClock = `
CREATE TABLE IF NOT EXISTS todo_clock (
    id SMALLINT PRIMARY KEY,
    value BIGINT NOT NULL
);

INSERT INTO todo_clock (id, value) VALUES (1, 0) ON CONFLICT (id) DO NOTHING;
`
