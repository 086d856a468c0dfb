// Package datastore is the client facade: it initializes the session with
// the remote endpoint and the local store, issues local-first CRUD against it
// and fans change events out to subscribers.
package datastore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/existflow/todosync/internal/config"
	"github.com/existflow/todosync/internal/logger"
	"github.com/existflow/todosync/internal/model"
	"github.com/existflow/todosync/internal/schema"
	tsync "github.com/existflow/todosync/internal/sync"
)

// Session is the established connection the facade writes through.
// *sync.Session satisfies it.
type Session interface {
	Create(ctx context.Context, t model.Todo) error
	Update(ctx context.Context, id string, fields model.Fields, expectedVersion int64) (model.Todo, error)
	Delete(ctx context.Context, id string) (model.Todo, bool, error)
	Get(ctx context.Context, id string) (model.Todo, error)
	Query(ctx context.Context, filter model.Filter) ([]model.Todo, error)
	Sync(ctx context.Context) (model.SyncResult, error)
	Close() error
}

// Dialer establishes the session
type Dialer func(ctx context.Context, cfg *config.Config, opts tsync.DialOptions) (Session, error)

// DialRemote is the default dialer
func DialRemote(ctx context.Context, cfg *config.Config, opts tsync.DialOptions) (Session, error) {
	return tsync.Dial(ctx, cfg, opts)
}

type state int

const (
	stateNew state = iota
	stateInitializing
	stateReady
	stateFailed
	stateClosed
)

// Facade is the single entry point the UI talks to
type Facade struct {
	dial     Dialer
	log      *logger.Logger
	ownsLog  bool
	onError  func(error)
	hub      *hub
	registry *schema.Registry
	session  Session

	mu    sync.Mutex
	state state
}

// Option configures a Facade
type Option func(*Facade)

// WithDialer replaces the session dialer, typically with a mock
func WithDialer(d Dialer) Option {
	return func(f *Facade) { f.dial = d }
}

// WithLogger sets the logger. Without it Initialize builds one from the
// configured verbosity.
func WithLogger(l *logger.Logger) Option {
	return func(f *Facade) { f.log = l }
}

// WithErrorHandler receives errors raised by background sync, such as
// rejected mutations and, when enabled, resolved conflicts.
func WithErrorHandler(fn func(error)) Option {
	return func(f *Facade) { f.onError = fn }
}

// WithEventBuffer sets the initial capacity of each subscriber queue
func WithEventBuffer(n int) Option {
	return func(f *Facade) {
		if n > 0 {
			f.hub.capacity = n
		}
	}
}

// New creates an uninitialized facade
func New(opts ...Option) *Facade {
	f := &Facade{
		dial:    DialRemote,
		onError: func(error) {},
		hub:     newHub(16),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Initialize establishes the session. It may be called once; a second call
// fails with ErrNotInitialized whatever the outcome of the first.
func (f *Facade) Initialize(ctx context.Context, cfg *config.Config) error {
	f.mu.Lock()
	if f.state != stateNew {
		f.mu.Unlock()
		return fmt.Errorf("%w: initialize called more than once", model.ErrNotInitialized)
	}
	f.state = stateInitializing
	f.mu.Unlock()

	session, registry, err := f.initialize(ctx, cfg)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.state = stateFailed
		return err
	}
	f.session = session
	f.registry = registry
	f.state = stateReady
	return nil
}

func (f *Facade) initialize(ctx context.Context, cfg *config.Config) (Session, *schema.Registry, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("%w: no configuration", model.ErrInitializationFailed)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", model.ErrInitializationFailed, err)
	}
	registry, err := schema.New(cfg.Schema.Operations...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", model.ErrInitializationFailed, err)
	}

	if f.log == nil {
		log, err := logger.New(logger.Config{
			Level:    logger.ParseVerbosity(cfg.Logging.Verbosity),
			FilePath: cfg.Logging.File,
			Console:  cfg.Logging.Console,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", model.ErrInitializationFailed, err)
		}
		f.log = log
		f.ownsLog = true
	}

	if cfg.Sync.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Sync.ConnectTimeout)
		defer cancel()
	}

	f.log.Info("Initializing",
		logger.F("endpoint", cfg.API.Endpoint),
		logger.F("authMode", cfg.API.AuthMode),
		logger.F("operations", registry.Allowed()),
		logger.F("billingMode", cfg.Schema.BillingMode))

	session, err := f.dial(ctx, cfg, tsync.DialOptions{
		Registry: registry,
		Logger:   f.log,
		Sink:     sink{f},
		OnError:  f.reportError,
	})
	if err != nil {
		f.log.Error("Initialization failed", logger.F("error", err))
		return nil, nil, fmt.Errorf("%w: %w", model.ErrInitializationFailed, err)
	}
	return session, registry, nil
}

func (f *Facade) reportError(err error) {
	f.log.Warn("Background sync error", logger.F("error", err))
	f.onError(err)
}

// ready returns the session once initialization succeeded and op is declared
func (f *Facade) ready(op string) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != stateReady {
		return nil, model.ErrNotInitialized
	}
	if err := f.registry.CheckOperation(op); err != nil {
		return nil, err
	}
	return f.session, nil
}

func (f *Facade) emit(kind model.ChangeKind, t model.Todo) {
	f.hub.publish(model.ChangeEvent{Kind: kind, Record: t, Source: model.SourceLocal})
}

// Create inserts a new record locally and returns it before the remote sees it
func (f *Facade) Create(ctx context.Context, fields model.Fields) (model.Todo, error) {
	session, err := f.ready(schema.OpCreateTodo)
	if err != nil {
		return model.Todo{}, err
	}
	if err := fields.Validate(true); err != nil {
		return model.Todo{}, err
	}

	t := model.NewTodo(uuid.NewString(), fields)
	if err := session.Create(ctx, t); err != nil {
		return model.Todo{}, err
	}
	f.emit(model.ChangeCreate, t)
	return t, nil
}

// Update applies fields to a live record. expectedVersion is the version the
// caller last saw; the remote resolves a stale one.
func (f *Facade) Update(ctx context.Context, id string, fields model.Fields, expectedVersion int64) (model.Todo, error) {
	session, err := f.ready(schema.OpUpdateTodo)
	if err != nil {
		return model.Todo{}, err
	}
	if fields.IsEmpty() {
		return model.Todo{}, fmt.Errorf("%w: no fields to update", model.ErrInvalidRecord)
	}
	if err := fields.Validate(false); err != nil {
		return model.Todo{}, err
	}

	t, err := session.Update(ctx, id, fields, expectedVersion)
	if err != nil {
		return model.Todo{}, err
	}
	f.emit(model.ChangeUpdate, t)
	return t, nil
}

// Delete tombstones a record. Deleting a tombstone returns it unchanged.
func (f *Facade) Delete(ctx context.Context, id string) (model.Todo, error) {
	session, err := f.ready(schema.OpDeleteTodo)
	if err != nil {
		return model.Todo{}, err
	}

	t, changed, err := session.Delete(ctx, id)
	if err != nil {
		return model.Todo{}, err
	}
	if changed {
		f.emit(model.ChangeDelete, t)
	}
	return t, nil
}

// Get looks a record up by id, tombstones included
func (f *Facade) Get(ctx context.Context, id string) (model.Todo, error) {
	session, err := f.ready(schema.OpGetTodo)
	if err != nil {
		return model.Todo{}, err
	}
	return session.Get(ctx, id)
}

// Query returns the local records matching filter, ordered by creation. It
// never touches the network.
func (f *Facade) Query(ctx context.Context, filter model.Filter) ([]model.Todo, error) {
	session, err := f.ready(schema.OpListTodos)
	if err != nil {
		return nil, err
	}
	normalized, err := f.registry.CheckFilter(filter)
	if err != nil {
		return nil, err
	}
	return session.Query(ctx, normalized)
}

// Subscribe registers a change stream. It does not block; the stream ends
// on Cancel, when ctx is done, or when the realtime connection drops.
func (f *Facade) Subscribe(ctx context.Context) (*Subscription, error) {
	f.mu.Lock()
	if f.state != stateReady {
		f.mu.Unlock()
		return nil, model.ErrNotInitialized
	}
	declared := f.registry.Subscriptions()
	f.mu.Unlock()

	if len(declared) == 0 {
		return nil, fmt.Errorf("%w: no subscription operation is declared", model.ErrSchemaMismatch)
	}
	kinds := make(map[model.ChangeKind]bool, len(declared))
	for _, op := range declared {
		kind, _ := schema.KindForSubscription(op)
		kinds[kind] = true
	}

	sub := f.hub.subscribe(kinds)
	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, sub.Cancel)
		go func() {
			<-sub.ended
			stop()
		}()
	}
	return sub, nil
}

// Sync flushes queued mutations and pulls remote changes now
func (f *Facade) Sync(ctx context.Context) (model.SyncResult, error) {
	session, err := f.ready(schema.OpSyncTodos)
	if err != nil {
		return model.SyncResult{}, err
	}
	return session.Sync(ctx)
}

// Registry returns the declared operation set, nil before initialization
func (f *Facade) Registry() *schema.Registry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registry
}

// Close stops background sync and ends every subscription. A closed facade
// cannot be initialized again.
func (f *Facade) Close() error {
	f.mu.Lock()
	session := f.session
	wasReady := f.state == stateReady
	f.state = stateClosed
	f.session = nil
	f.mu.Unlock()

	var errs []error
	if wasReady && session != nil {
		errs = append(errs, session.Close())
	}
	f.hub.terminateAll(nil)
	if f.ownsLog {
		errs = append(errs, f.log.Close())
	}
	return errors.Join(errs...)
}

// sink receives the changes the sync layer merged from the remote
type sink struct {
	f *Facade
}

func (s sink) Publish(ev model.ChangeEvent) {
	s.f.hub.publish(ev)
}

func (s sink) Terminate(err error) {
	if !errors.Is(err, model.ErrStreamTerminated) {
		err = fmt.Errorf("%w: %v", model.ErrStreamTerminated, err)
	}
	s.f.log.Warn("Ending subscriptions", logger.F("error", err))
	s.f.hub.terminateAll(err)
}
