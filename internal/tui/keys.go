package tui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines all key bindings
type keyMap struct {
	Up          key.Binding
	Down        key.Binding
	Top         key.Binding
	Bottom      key.Binding
	Enter       key.Binding
	Add         key.Binding
	Edit        key.Binding
	Delete      key.Binding
	Priority    key.Binding
	Filter      key.Binding
	Next        key.Binding
	Prev        key.Binding
	ShowDeleted key.Binding
	Help        key.Binding
	Quit        key.Binding
	Escape      key.Binding
	Refresh     key.Binding
}

var keys = keyMap{
	Up:          key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:        key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Top:         key.NewBinding(key.WithKeys("g", "home"), key.WithHelp("g", "top")),
	Bottom:      key.NewBinding(key.WithKeys("G", "end"), key.WithHelp("G", "bottom")),
	Enter:       key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "confirm")),
	Add:         key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "add todo")),
	Edit:        key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "edit name")),
	Delete:      key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete")),
	Priority:    key.NewBinding(key.WithKeys("0", "1", "2", "3"), key.WithHelp("0-3", "priority none/low/normal/high")),
	Filter:      key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "filter")),
	Next:        key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "next match")),
	Prev:        key.NewBinding(key.WithKeys("N"), key.WithHelp("N", "previous match")),
	ShowDeleted: key.NewBinding(key.WithKeys("."), key.WithHelp(".", "show deleted")),
	Help:        key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	Quit:        key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Escape:      key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
	Refresh:     key.NewBinding(key.WithKeys("R", "r"), key.WithHelp("R", "sync now")),
}

// helpKeys lists the bindings shown on the help screen, in order
func helpKeys() []key.Binding {
	return []key.Binding{
		keys.Up, keys.Down, keys.Top, keys.Bottom,
		keys.Add, keys.Edit, keys.Delete, keys.Priority,
		keys.Filter, keys.Next, keys.Prev, keys.ShowDeleted,
		keys.Refresh, keys.Help, keys.Quit,
	}
}
