// Package sync is the sync layer behind the client facade: it owns the local
// store, replays queued mutations against the remote endpoint, merges deltas
// and follows the realtime stream.
package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/existflow/todosync/internal/config"
	"github.com/existflow/todosync/internal/db"
	"github.com/existflow/todosync/internal/logger"
	"github.com/existflow/todosync/internal/model"
	"github.com/existflow/todosync/internal/schema"
)

// Session is an established connection: the local store plus the engine
// keeping it in sync with the remote endpoint.
type Session struct {
	db     *db.DB
	client *Client
	engine *Engine
	log    *logger.Logger
}

// DialOptions carries the collaborators of a session
type DialOptions struct {
	Registry *schema.Registry
	Logger   *logger.Logger
	Sink     Sink
	OnError  func(error)
}

// Dial opens the local store, authorizes against the endpoint, checks that it
// is reachable and starts the sync engine.
func Dial(ctx context.Context, cfg *config.Config, opts DialOptions) (*Session, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	registry := opts.Registry
	if registry == nil {
		registry = schema.Default()
	}

	client := NewClient(cfg.API.Endpoint, nil, log)
	signer, err := NewSigner(ctx, cfg.API, client)
	if err != nil {
		return nil, err
	}
	client.SetSigner(signer)

	if err := client.Health(ctx); err != nil {
		return nil, err
	}
	// A signed lookup rejects bad credentials before anything is queued
	if _, err := client.GetTodo(ctx, uuid.Nil.String()); err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	database, err := db.Open(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}

	engine := NewEngine(client, database, registry, opts.Sink, cfg.Sync, log, opts.OnError)
	engine.Start(ctx)

	log.Info("Session established",
		logger.F("endpoint", cfg.API.Endpoint),
		logger.F("authMode", cfg.API.AuthMode),
		logger.F("store", database.Path()))

	return &Session{db: database, client: client, engine: engine, log: log}, nil
}

// Create stores a new record and queues it for the remote
func (s *Session) Create(ctx context.Context, t model.Todo) error {
	if _, err := s.db.CreateLocal(ctx, t); err != nil {
		return err
	}
	s.engine.Notify()
	return nil
}

// Update applies fields to a record and queues the change
func (s *Session) Update(ctx context.Context, id string, fields model.Fields, expectedVersion int64) (model.Todo, error) {
	t, err := s.db.UpdateLocal(ctx, id, fields, expectedVersion)
	if err != nil {
		return model.Todo{}, err
	}
	s.engine.Notify()
	return t, nil
}

// Delete tombstones a record and queues the change. changed is false when
// the record was already deleted.
func (s *Session) Delete(ctx context.Context, id string) (model.Todo, bool, error) {
	t, changed, err := s.db.DeleteLocal(ctx, id)
	if err != nil {
		return model.Todo{}, false, err
	}
	if changed {
		s.engine.Notify()
	}
	return t, changed, nil
}

// Get returns a local record, tombstones included
func (s *Session) Get(ctx context.Context, id string) (model.Todo, error) {
	return s.db.GetTodo(ctx, id)
}

// Query returns the local records matching a normalized filter
func (s *Session) Query(ctx context.Context, filter model.Filter) ([]model.Todo, error) {
	return s.db.ListTodos(ctx, filter)
}

// Sync flushes the outbox and pulls deltas now
func (s *Session) Sync(ctx context.Context) (model.SyncResult, error) {
	return s.engine.SyncNow(ctx)
}

// Client returns the remote client of the session
func (s *Session) Client() *Client {
	return s.client
}

// Close stops the engine and closes the local store
func (s *Session) Close() error {
	s.engine.Stop()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return nil
}
