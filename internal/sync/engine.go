package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/existflow/todosync/internal/config"
	"github.com/existflow/todosync/internal/db"
	"github.com/existflow/todosync/internal/logger"
	"github.com/existflow/todosync/internal/model"
	"github.com/existflow/todosync/internal/schema"
)

// Sink receives the changes merged from the remote
type Sink interface {
	// Publish delivers one merged change
	Publish(ev model.ChangeEvent)
	// Terminate reports that the realtime connection dropped
	Terminate(err error)
}

const (
	pageSize       = 100
	initialBackoff = 250 * time.Millisecond
)

// Engine replays the outbox, pulls deltas and follows the realtime stream
type Engine struct {
	client   *Client
	db       *db.DB
	registry *schema.Registry
	sink     Sink
	log      *logger.Logger
	cfg      config.SyncConfig
	onError  func(error)

	mu     sync.Mutex // one pass at a time
	kickCh chan struct{}
	pullCh chan struct{}
	ready  chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates an engine. Start launches its background loops.
func NewEngine(client *Client, database *db.DB, registry *schema.Registry, sink Sink, cfg config.SyncConfig, log *logger.Logger, onError func(error)) *Engine {
	if log == nil {
		log = logger.Discard()
	}
	if onError == nil {
		onError = func(error) {}
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		client:   client,
		db:       database,
		registry: registry,
		sink:     sink,
		log:      log.WithFields(logger.F("component", "sync")),
		cfg:      cfg,
		onError:  onError,
		kickCh:   make(chan struct{}, 1),
		pullCh:   make(chan struct{}, 1),
		ready:    make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the sync loop and the realtime reader, and waits until the
// first realtime connection attempt has finished or ctx is done.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go e.loop()

	if len(e.registry.Subscriptions()) == 0 {
		close(e.ready)
	} else {
		e.wg.Add(1)
		go e.realtimeLoop()
	}

	select {
	case <-e.ready:
	case <-ctx.Done():
	}
	e.signal(e.pullCh)
}

// Notify tells the engine the outbox grew. The push is debounced.
func (e *Engine) Notify() {
	e.signal(e.kickCh)
}

func (e *Engine) signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Stop stops the background loops and waits for them to exit
func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()
}

func (e *Engine) loop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	debounce := time.NewTimer(e.cfg.Debounce)
	debounce.Stop()

	for {
		select {
		case <-e.ctx.Done():
			debounce.Stop()
			return
		case <-e.kickCh:
			debounce.Reset(e.cfg.Debounce)
		case <-debounce.C:
			e.background(false)
		case <-e.pullCh:
			e.background(true)
		case <-ticker.C:
			// Retries a stalled outbox as well as pulling
			e.background(true)
		}
	}
}

// background runs one pass and reports its rejections asynchronously
func (e *Engine) background(pull bool) {
	result, err := e.pass(e.ctx, pull)
	if err != nil && e.ctx.Err() == nil {
		e.log.Warn("Sync pass failed", logger.F("error", err))
	}
	if result.Offline {
		e.log.Debug("Endpoint unreachable, keeping outbox", logger.F("pending", result.Pending))
	}
}

// SyncNow flushes the outbox and pulls deltas. Offline is reported in the
// result; rejected mutations are returned joined.
func (e *Engine) SyncNow(ctx context.Context) (model.SyncResult, error) {
	return e.pass(ctx, true)
}

func (e *Engine) pass(ctx context.Context, pull bool) (model.SyncResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var result model.SyncResult
	var errs []error

	if err := e.push(ctx, &result, &errs); err != nil {
		return result, err
	}
	if pull && !result.Offline {
		if err := e.pull(ctx, &result); err != nil {
			if !IsOffline(err) {
				return result, err
			}
			result.Offline = true
		}
	}

	pending, err := e.db.PendingCount(ctx)
	if err != nil {
		return result, err
	}
	result.Pending = pending

	if result.Pushed > 0 || result.Pulled > 0 || result.Conflicts > 0 || result.Rejected > 0 {
		e.log.Info("Sync completed",
			logger.F("pushed", result.Pushed),
			logger.F("pulled", result.Pulled),
			logger.F("conflicts", result.Conflicts),
			logger.F("rejected", result.Rejected),
			logger.F("pending", result.Pending))
	}
	return result, errors.Join(errs...)
}

// push replays the outbox in issue order. It stops at the first mutation that
// cannot be delivered so later ones never overtake it.
func (e *Engine) push(ctx context.Context, result *model.SyncResult, errs *[]error) error {
	mutations, err := e.db.PendingMutations(ctx)
	if err != nil {
		return err
	}

	// Records whose queued mutations a conflict already dropped
	resolved := make(map[string]bool)

	for _, m := range mutations {
		if resolved[m.TodoID] {
			continue
		}
		log := e.log.WithFields(logger.F("seq", m.Seq), logger.F("id", m.TodoID), logger.F("kind", m.Kind))

		accepted, err := e.send(ctx, m)
		var conflict *model.ConflictError
		switch {
		case err == nil:
			if err := e.ack(ctx, m, accepted, result, log); err != nil {
				return err
			}

		case errors.As(err, &conflict) && redelivered(m, conflict.Current):
			// An earlier attempt landed but its response was lost
			if err := e.ack(ctx, m, conflict.Current, result, log); err != nil {
				return err
			}

		case errors.As(err, &conflict):
			kind, dropped, rerr := e.db.ResolveConflict(ctx, m.Seq, conflict.Current)
			if errors.Is(rerr, model.ErrNotFound) {
				continue
			}
			if rerr != nil {
				return rerr
			}
			resolved[m.TodoID] = true
			result.Conflicts++
			log.Info("Conflict resolved, remote wins",
				logger.F("version", conflict.Current.Version),
				logger.F("dropped", dropped))
			e.publish(kind, conflict.Current)
			if e.cfg.SurfaceConflicts {
				e.onError(fmt.Errorf("mutation %d on %s: %w", m.Seq, m.TodoID, err))
			}

		case IsRetryable(err):
			if IsOffline(err) {
				result.Offline = true
			}
			log.Debug("Mutation deferred", logger.F("error", err))
			return nil

		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err

		default:
			if derr := e.db.DropMutation(ctx, m.Seq); derr != nil && !errors.Is(derr, model.ErrNotFound) {
				return derr
			}
			result.Rejected++
			log.Warn("Mutation rejected", logger.F("error", err))
			rejected := fmt.Errorf("%s %s: %w", m.Kind, m.TodoID, err)
			*errs = append(*errs, rejected)
			e.onError(rejected)
		}
	}
	return nil
}

// ack completes an accepted mutation and publishes the visible change
func (e *Engine) ack(ctx context.Context, m db.Mutation, accepted model.Todo, result *model.SyncResult, log *logger.Logger) error {
	stored, changed, err := e.db.CompleteMutation(ctx, m.Seq, accepted)
	if errors.Is(err, model.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	result.Pushed++
	log.Debug("Mutation accepted", logger.F("version", accepted.Version))
	if changed {
		e.publish(changeKind(stored), stored)
	}
	return nil
}

// redelivered reports whether a create conflicts only with the record an
// earlier delivery of the same create stored
func redelivered(m db.Mutation, current model.Todo) bool {
	if m.Kind != model.ChangeCreate || current.ID != m.TodoID || current.Version != 1 {
		return false
	}
	created := m.Record
	created.Deleted = false
	return created.SameContent(current)
}

func (e *Engine) send(ctx context.Context, m db.Mutation) (model.Todo, error) {
	switch m.Kind {
	case model.ChangeCreate:
		in := CreateTodoInput{ID: m.Record.ID, Name: m.Record.Name, Description: m.Record.Description}
		if m.Record.Priority != model.PriorityUnset {
			in.Priority = model.PriorityOf(m.Record.Priority)
		}
		return e.client.CreateTodo(ctx, in)
	case model.ChangeUpdate:
		return e.client.UpdateTodo(ctx, UpdateTodoInput{
			ID:          m.TodoID,
			Name:        m.Fields.Name,
			Description: m.Fields.Description,
			Priority:    m.Fields.Priority,
			Version:     m.ExpectedVersion,

			ClearDescription: m.Fields.ClearDescription,
		})
	case model.ChangeDelete:
		return e.client.DeleteTodo(ctx, DeleteTodoInput{ID: m.TodoID, Version: m.ExpectedVersion})
	}
	return model.Todo{}, fmt.Errorf("%w: unknown mutation kind %q", model.ErrInvalidRecord, m.Kind)
}

// pull fetches every record changed since the stored cursor
func (e *Engine) pull(ctx context.Context, result *model.SyncResult) error {
	lastSync, err := e.db.LastSync(ctx)
	if err != nil {
		return err
	}

	var (
		token     string
		startedAt int64
	)
	for {
		page, err := e.client.SyncTodos(ctx, lastSync, pageSize, token)
		if err != nil {
			return err
		}
		if startedAt == 0 {
			startedAt = page.StartedAt
		}
		for _, remote := range page.Items {
			if e.merge(ctx, remote) {
				result.Pulled++
			}
		}
		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}

	if startedAt > lastSync {
		return e.db.SetLastSync(ctx, startedAt)
	}
	return nil
}

// merge stores a remote record and publishes the visible change
func (e *Engine) merge(ctx context.Context, remote model.Todo) bool {
	kind, applied, err := e.db.MergeRemote(ctx, remote)
	if err != nil {
		e.log.Warn("Failed to merge remote record", logger.F("id", remote.ID), logger.F("error", err))
		return false
	}
	if applied {
		e.publish(kind, remote)
	}
	return applied
}

func (e *Engine) publish(kind model.ChangeKind, t model.Todo) {
	e.sink.Publish(model.ChangeEvent{Kind: kind, Record: t, Source: model.SourceRemote})
}

func changeKind(t model.Todo) model.ChangeKind {
	if t.Deleted {
		return model.ChangeDelete
	}
	return model.ChangeUpdate
}

// realtimeLoop follows the realtime stream, reconnecting with exponential
// backoff. Every reconnect triggers a delta pull to cover the gap.
func (e *Engine) realtimeLoop() {
	defer e.wg.Done()

	ops := e.registry.Subscriptions()
	backoff := initialBackoff
	first := true
	for {
		stream, err := e.client.Subscribe(e.ctx, ops)
		if first {
			close(e.ready)
			first = false
		}
		if err != nil {
			if e.ctx.Err() != nil {
				return
			}
			e.log.Debug("Realtime connect failed", logger.F("error", err), logger.F("retryIn", backoff.String()))
			if !e.sleep(backoff) {
				return
			}
			backoff = min(backoff*2, e.cfg.MaxBackoff)
			continue
		}

		backoff = initialBackoff
		e.signal(e.pullCh)
		e.log.Info("Realtime connected", logger.F("operations", ops))

		err = e.follow(stream)
		_ = stream.Close()
		if e.ctx.Err() != nil {
			return
		}
		e.log.Warn("Realtime connection lost", logger.F("error", err))
		e.sink.Terminate(err)
	}
}

func (e *Engine) follow(stream *Stream) error {
	// Unblock Next when the engine stops
	stop := context.AfterFunc(e.ctx, func() { _ = stream.Close() })
	defer stop()

	for {
		d, err := stream.Next()
		if err != nil {
			return err
		}
		e.merge(e.ctx, d.Record)
	}
}

func (e *Engine) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-e.ctx.Done():
		return false
	}
}
