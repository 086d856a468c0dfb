package tui

import (
	"context"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/textinput"

	"github.com/existflow/todosync/internal/logger"
	"github.com/existflow/todosync/internal/model"
)

// Store is the part of the datastore facade the list works on
type Store interface {
	Create(ctx context.Context, fields model.Fields) (model.Todo, error)
	Update(ctx context.Context, id string, fields model.Fields, expectedVersion int64) (model.Todo, error)
	Delete(ctx context.Context, id string) (model.Todo, error)
	Query(ctx context.Context, filter model.Filter) ([]model.Todo, error)
	Sync(ctx context.Context) (model.SyncResult, error)
}

// Feed is a live change stream
type Feed interface {
	Events() <-chan model.ChangeEvent
	Err() error
	Cancel()
}

// SubscribeFunc opens a new change stream
type SubscribeFunc func(ctx context.Context) (Feed, error)

// Mode represents the current UI mode
type Mode int

const (
	ModeNormal Mode = iota
	ModeAdd
	ModeEdit
	ModeFilter
	ModeHelp
)

// Model is the main TUI model
type Model struct {
	ctx       context.Context
	store     Store
	subscribe SubscribeFunc
	feed      Feed
	errs      <-chan error

	todos []model.Todo

	// UI state
	width       int
	height      int
	mode        Mode
	cursor      int
	showDeleted bool

	// Input
	input textinput.Model

	// Filter (vim-style)
	filterText   string
	matchIndices []int // Indices of matching todos
	matchCursor  int   // Current match for n/N navigation

	// Sync state
	live     bool // Realtime stream connected
	offline  bool
	syncing  bool
	lastSync time.Time

	message string
}

// NewModel subscribes to changes, then loads the current list. Subscribing
// first means no change is lost between the load and the first event.
func NewModel(ctx context.Context, store Store, subscribe SubscribeFunc, errs <-chan error) Model {
	logger.Info("Initializing TUI model")

	ti := textinput.New()
	ti.Placeholder = "Enter todo..."
	ti.CharLimit = 256
	ti.Width = 50

	m := Model{
		ctx:       ctx,
		store:     store,
		subscribe: subscribe,
		errs:      errs,
		mode:      ModeNormal,
		input:     ti,
	}

	feed, err := subscribe(ctx)
	if err != nil {
		logger.Warn("Realtime subscription failed", logger.F("error", err))
		m.message = "Realtime unavailable: " + err.Error()
	} else {
		m.feed = feed
		m.live = true
	}

	m.loadData()
	logger.Debug("TUI model initialized", logger.F("todos", len(m.todos)))
	return m
}

// loadData replaces the list from the local store
func (m *Model) loadData() {
	todos, err := m.store.Query(m.ctx, model.Filter{IncludeDeleted: m.showDeleted})
	if err != nil {
		m.message = "Load failed: " + err.Error()
		return
	}
	m.todos = todos
	m.sortTodos()
	m.clampCursor()
	m.applyFilter()
}

// apply merges one change into the list
func (m *Model) apply(ev model.ChangeEvent) {
	t := ev.Record
	idx := m.indexOf(t.ID)
	hidden := t.Deleted && !m.showDeleted

	switch {
	case idx < 0 && hidden:
		return
	case idx < 0:
		m.todos = append(m.todos, t)
	case hidden:
		m.todos = append(m.todos[:idx], m.todos[idx+1:]...)
	default:
		m.todos[idx] = t
	}
	m.sortTodos()
	m.clampCursor()
	m.applyFilter()
}

func (m *Model) indexOf(id string) int {
	for i, t := range m.todos {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// sortTodos orders live todos by priority (high first), then newest first.
// Tombstones go last.
func (m *Model) sortTodos() {
	sort.SliceStable(m.todos, func(i, j int) bool {
		t1, t2 := m.todos[i], m.todos[j]
		if t1.Deleted != t2.Deleted {
			return !t1.Deleted
		}
		if t1.Priority != t2.Priority {
			return t1.Priority > t2.Priority
		}
		if !t1.CreatedAt.Equal(t2.CreatedAt) {
			return t1.CreatedAt.After(t2.CreatedAt)
		}
		return t1.ID < t2.ID
	})
}

func (m *Model) clampCursor() {
	if m.cursor >= len(m.todos) {
		m.cursor = len(m.todos) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m *Model) currentTodo() *model.Todo {
	if m.cursor < len(m.todos) {
		return &m.todos[m.cursor]
	}
	return nil
}

// pendingCount counts records the remote has not acknowledged
func (m *Model) pendingCount() int {
	n := 0
	for i := range m.todos {
		if m.todos[i].IsPending() {
			n++
		}
	}
	return n
}
