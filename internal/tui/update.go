package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/existflow/todosync/internal/logger"
	"github.com/existflow/todosync/internal/model"
)

const (
	syncTimeout      = 30 * time.Second
	resubscribeDelay = 2 * time.Second
)

// tickMsg is sent every second for time updates
type tickMsg time.Time

// changeMsg carries one event from the change stream
type changeMsg struct {
	event model.ChangeEvent
}

// feedEndedMsg is sent when the change stream closes
type feedEndedMsg struct {
	err error
}

// resubscribeMsg asks for a new change stream
type resubscribeMsg struct{}

// feedMsg is the outcome of a resubscribe
type feedMsg struct {
	feed Feed
	err  error
}

// syncDoneMsg is the outcome of an explicit sync
type syncDoneMsg struct {
	result model.SyncResult
	err    error
}

// syncErrMsg carries a background sync error
type syncErrMsg struct {
	err error
}

// Init starts the clock, the change stream and a first sync
func (m Model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), waitForChange(m.feed), m.waitForError(), m.syncCmd())
}

func tickCmd() tea.Cmd {
	return tea.Every(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitForChange blocks on the next event of the stream
func waitForChange(feed Feed) tea.Cmd {
	if feed == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-feed.Events()
		if !ok {
			return feedEndedMsg{err: feed.Err()}
		}
		return changeMsg{event: ev}
	}
}

// waitForError listens for background sync errors
func (m Model) waitForError() tea.Cmd {
	if m.errs == nil {
		return nil
	}
	errs := m.errs
	return func() tea.Msg {
		err, ok := <-errs
		if !ok {
			return nil
		}
		return syncErrMsg{err: err}
	}
}

func (m Model) syncCmd() tea.Cmd {
	ctx, store := m.ctx, m.store
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, syncTimeout)
		defer cancel()
		result, err := store.Sync(ctx)
		return syncDoneMsg{result: result, err: err}
	}
}

func (m Model) resubscribeCmd() tea.Cmd {
	ctx, subscribe := m.ctx, m.subscribe
	return func() tea.Msg {
		feed, err := subscribe(ctx)
		return feedMsg{feed: feed, err: err}
	}
}

func retryLater() tea.Cmd {
	return tea.Tick(resubscribeDelay, func(time.Time) tea.Msg {
		return resubscribeMsg{}
	})
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		return m, tickCmd()

	case changeMsg:
		m.apply(msg.event)
		if msg.event.Source == model.SourceRemote {
			m.message = fmt.Sprintf("Remote %s: %s", msg.event.Kind, truncate(msg.event.Record.Name, 30))
		}
		return m, waitForChange(m.feed)

	case feedEndedMsg:
		m.live = false
		m.feed = nil
		if msg.err == nil {
			return m, nil
		}
		logger.Warn("Realtime stream ended", logger.F("error", msg.err))
		m.message = "Realtime stream dropped, reconnecting..."
		return m, retryLater()

	case resubscribeMsg:
		return m, m.resubscribeCmd()

	case feedMsg:
		if msg.err != nil {
			m.message = "Reconnect failed: " + msg.err.Error()
			return m, retryLater()
		}
		m.feed = msg.feed
		m.live = true
		// Changes made while disconnected were not streamed
		m.loadData()
		m.message = "Realtime stream reconnected"
		return m, waitForChange(m.feed)

	case syncDoneMsg:
		m.syncing = false
		m.offline = msg.result.Offline
		if msg.err != nil {
			m.message = "Sync failed: " + msg.err.Error()
			return m, nil
		}
		m.lastSync = time.Now()
		if msg.result.Offline {
			m.message = fmt.Sprintf("Offline: %d change(s) queued", msg.result.Pending)
		} else if msg.result.Pushed > 0 || msg.result.Pulled > 0 {
			m.message = fmt.Sprintf("Synced: pushed %d, pulled %d", msg.result.Pushed, msg.result.Pulled)
		}
		return m, nil

	case syncErrMsg:
		m.message = "⚠ " + msg.err.Error()
		return m, m.waitForError()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		// Handle mode-specific input
		switch m.mode {
		case ModeAdd, ModeEdit:
			return m.updateInput(msg)
		case ModeFilter:
			return m.updateFilter(msg)
		case ModeHelp:
			m.mode = ModeNormal
			return m, nil
		}

		// Normal mode key handling
		return m.handleNormalKeys(msg)
	}

	return m, nil
}

// handleNormalKeys handles key presses in normal mode
func (m Model) handleNormalKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		if m.feed != nil {
			m.feed.Cancel()
		}
		return m, tea.Quit

	case key.Matches(msg, keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}

	case key.Matches(msg, keys.Down):
		if m.cursor < len(m.todos)-1 {
			m.cursor++
		}

	case key.Matches(msg, keys.Top):
		m.cursor = 0

	case key.Matches(msg, keys.Bottom):
		m.cursor = len(m.todos) - 1
		m.clampCursor()

	case key.Matches(msg, keys.Priority):
		m.handlePriority(msg.String())

	case key.Matches(msg, keys.Add):
		return m.startAdd()

	case key.Matches(msg, keys.Edit):
		return m.startEdit()

	case key.Matches(msg, keys.Delete):
		m.handleDelete()

	case key.Matches(msg, keys.Filter):
		return m.startFilter()

	case key.Matches(msg, keys.Next):
		m.handleNextMatch()

	case key.Matches(msg, keys.Prev):
		m.handlePrevMatch()

	case key.Matches(msg, keys.ShowDeleted):
		m.showDeleted = !m.showDeleted
		m.loadData()
		if m.showDeleted {
			m.message = "Showing deleted todos"
		} else {
			m.message = "Hiding deleted todos"
		}

	case key.Matches(msg, keys.Escape):
		if m.filterText != "" {
			m.filterText = ""
			m.matchIndices = nil
			m.message = "Filter cleared"
		}

	case key.Matches(msg, keys.Help):
		m.mode = ModeHelp

	case key.Matches(msg, keys.Refresh):
		if m.syncing {
			return m, nil
		}
		m.syncing = true
		m.message = "Syncing..."
		return m, m.syncCmd()
	}

	return m, nil
}

// editable returns the selected todo unless it is a tombstone
func (m *Model) editable() *model.Todo {
	t := m.currentTodo()
	if t == nil || t.Deleted {
		return nil
	}
	return t
}

func (m *Model) handlePriority(k string) {
	t := m.editable()
	if t == nil {
		return
	}
	p := model.Priority(k[0] - '0')
	updated, err := m.store.Update(m.ctx, t.ID, model.Fields{Priority: model.PriorityOf(p)}, t.Version)
	if err != nil {
		m.message = "Update failed: " + err.Error()
		return
	}
	m.apply(model.ChangeEvent{Kind: model.ChangeUpdate, Record: updated, Source: model.SourceLocal})
	if p == model.PriorityUnset {
		m.message = "Priority cleared"
	} else {
		m.message = "Priority set to " + p.String()
	}
}

func (m *Model) handleDelete() {
	t := m.editable()
	if t == nil {
		return
	}
	deleted, err := m.store.Delete(m.ctx, t.ID)
	if err != nil {
		m.message = "Delete failed: " + err.Error()
		return
	}
	m.apply(model.ChangeEvent{Kind: model.ChangeDelete, Record: deleted, Source: model.SourceLocal})
	m.message = "Deleted: " + truncate(deleted.Name, 40)
}

func (m Model) startAdd() (tea.Model, tea.Cmd) {
	m.mode = ModeAdd
	m.input.SetValue("")
	m.input.Placeholder = "Enter todo..."
	m.input.Focus()
	return m, textinput.Blink
}

func (m Model) startEdit() (tea.Model, tea.Cmd) {
	t := m.editable()
	if t == nil {
		return m, nil
	}
	m.mode = ModeEdit
	m.input.SetValue(t.Name)
	m.input.Placeholder = "Edit todo..."
	m.input.Focus()
	m.input.CursorEnd()
	return m, textinput.Blink
}

func (m Model) startFilter() (tea.Model, tea.Cmd) {
	m.mode = ModeFilter
	m.input.SetValue(m.filterText)
	m.input.Placeholder = "/"
	m.input.Focus()
	return m, textinput.Blink
}

func (m *Model) handleNextMatch() {
	if len(m.matchIndices) > 0 {
		m.matchCursor = (m.matchCursor + 1) % len(m.matchIndices)
		m.cursor = m.matchIndices[m.matchCursor]
		m.message = fmt.Sprintf("[%d/%d] matches", m.matchCursor+1, len(m.matchIndices))
	}
}

func (m *Model) handlePrevMatch() {
	if len(m.matchIndices) > 0 {
		m.matchCursor--
		if m.matchCursor < 0 {
			m.matchCursor = len(m.matchIndices) - 1
		}
		m.cursor = m.matchIndices[m.matchCursor]
		m.message = fmt.Sprintf("[%d/%d] matches", m.matchCursor+1, len(m.matchIndices))
	}
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Escape):
		m.mode = ModeNormal
		m.input.Blur()
		return m, nil

	case key.Matches(msg, keys.Enter):
		value := strings.TrimSpace(m.input.Value())
		mode := m.mode
		m.mode = ModeNormal
		m.input.Blur()
		if value == "" {
			return m, nil
		}

		switch mode {
		case ModeAdd:
			t, err := m.store.Create(m.ctx, model.Fields{Name: model.String(value)})
			if err != nil {
				m.message = "Error adding todo: " + err.Error()
				return m, nil
			}
			m.apply(model.ChangeEvent{Kind: model.ChangeCreate, Record: t, Source: model.SourceLocal})
			m.cursor = m.indexOf(t.ID)
			m.clampCursor()
			m.message = "Added: " + value
		case ModeEdit:
			t := m.editable()
			if t == nil {
				return m, nil
			}
			updated, err := m.store.Update(m.ctx, t.ID, model.Fields{Name: model.String(value)}, t.Version)
			if err != nil {
				m.message = "Update failed: " + err.Error()
				return m, nil
			}
			m.apply(model.ChangeEvent{Kind: model.ChangeUpdate, Record: updated, Source: model.SourceLocal})
			m.message = "Updated: " + value
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Escape):
		m.mode = ModeNormal
		m.input.Blur()
		m.filterText = ""
		m.matchIndices = nil
		return m, nil

	case key.Matches(msg, keys.Enter):
		// Jump to the first match
		if len(m.matchIndices) > 0 {
			m.cursor = m.matchIndices[m.matchCursor]
		}
		m.mode = ModeNormal
		m.input.Blur()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	// Live filter as user types
	m.filterText = m.input.Value()
	m.applyFilter()
	return m, cmd
}

// applyFilter recomputes the indices of todos whose name or description
// contains the filter text
func (m *Model) applyFilter() {
	m.matchIndices = nil
	m.matchCursor = 0

	if m.filterText == "" {
		return
	}

	filter := strings.ToLower(m.filterText)
	for i, t := range m.todos {
		if strings.Contains(strings.ToLower(t.Name), filter) ||
			strings.Contains(strings.ToLower(t.DescriptionText()), filter) {
			m.matchIndices = append(m.matchIndices, i)
		}
	}
}
