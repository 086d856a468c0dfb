package server

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/existflow/todosync/internal/model"
)

// MemoryStore keeps everything in process memory
type MemoryStore struct {
	mu       sync.Mutex
	todos    map[string]model.Todo
	users    map[string]model.User // by username
	sessions map[string]model.Session
	clock    int64
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		todos:    make(map[string]model.Todo),
		users:    make(map[string]model.User),
		sessions: make(map[string]model.Session),
	}
}

func (s *MemoryStore) GetTodo(_ context.Context, id string) (model.Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.todos[id]
	if !ok {
		return model.Todo{}, fmt.Errorf("todo %s: %w", id, model.ErrNotFound)
	}
	return t, nil
}

func (s *MemoryStore) ListTodos(_ context.Context, filter model.Filter) ([]model.Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Todo{}
	for _, t := range s.todos {
		if filter.Match(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) ChangedTodos(_ context.Context, after ChangeCursor, until int64) ([]model.Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Todo{}
	for _, t := range s.todos {
		if after.Precedes(t) && t.LastChangedAt <= until {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastChangedAt != out[j].LastChangedAt {
			return out[i].LastChangedAt < out[j].LastChangedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) CreateTodo(_ context.Context, t model.Todo) (model.Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.todos[t.ID]; ok {
		return model.Todo{}, &model.ConflictError{Current: existing}
	}
	s.clock = nextClock(s.clock)
	t.Version = 0
	t.Deleted = false
	stamp(&t, s.clock)
	t.CreatedAt = t.UpdatedAt
	s.todos[t.ID] = t
	return t, nil
}

func (s *MemoryStore) MutateTodo(_ context.Context, id string, expected int64, fn MutateFunc) (model.Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.todos[id]
	if !ok {
		return model.Todo{}, fmt.Errorf("todo %s: %w", id, model.ErrNotFound)
	}
	if t.Version != expected {
		return model.Todo{}, &model.ConflictError{Current: t}
	}
	if err := fn(&t); err != nil {
		return model.Todo{}, err
	}
	s.clock = nextClock(s.clock)
	stamp(&t, s.clock)
	s.todos[id] = t
	return t, nil
}

func (s *MemoryStore) Clock(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock, nil
}

func (s *MemoryStore) CreateUser(_ context.Context, u model.User) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.Username]; ok {
		return model.User{}, ErrUserExists
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	s.users[u.Username] = u
	return u, nil
}

func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return model.User{}, fmt.Errorf("user %s: %w", username, model.ErrNotFound)
	}
	return u, nil
}

func (s *MemoryStore) CreateSession(_ context.Context, sess model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.Token] = sess
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, token string) (model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return model.Session{}, fmt.Errorf("session: %w", model.ErrNotFound)
	}
	return sess, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
