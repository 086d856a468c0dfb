package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/existflow/todosync/internal/model"
)

// Color palette
var (
	// Priority colors
	PriorityHighColor   = lipgloss.Color("#FF6B6B") // Red
	PriorityNormalColor = lipgloss.Color("#FFE66D") // Yellow
	PriorityLowColor    = lipgloss.Color("#4ECDC4") // Blue

	// Sync colors
	SyncOK      = lipgloss.Color("#95E1A3") // Green
	SyncPending = lipgloss.Color("#FFE66D") // Yellow
	SyncError   = lipgloss.Color("#FF6B6B") // Red
	Offline     = lipgloss.Color("#6C757D") // Gray

	// UI colors
	Primary   = lipgloss.Color("#4ECDC4")
	Surface   = lipgloss.Color("#16213e")
	TextMuted = lipgloss.Color("#888888")
	Border    = lipgloss.Color("#333333")
)

// Styles
var (
	// Header
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Primary)

	// Todo list
	ListStyle = lipgloss.NewStyle().
			Padding(1, 2)

	// Todo item
	ItemStyle = lipgloss.NewStyle().
			Padding(0, 1)

	ItemSelectedStyle = lipgloss.NewStyle().
				Padding(0, 1).
				Background(Surface).
				Bold(true)

	ItemMatchStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Underline(true)

	ItemDeletedStyle = lipgloss.NewStyle().
				Foreground(TextMuted).
				Strikethrough(true).
				Padding(0, 1)

	// Priority badges
	PriorityHighStyle   = lipgloss.NewStyle().Foreground(PriorityHighColor).Bold(true)
	PriorityNormalStyle = lipgloss.NewStyle().Foreground(PriorityNormalColor)
	PriorityLowStyle    = lipgloss.NewStyle().Foreground(PriorityLowColor)

	// Status bar
	StatusBarStyle = lipgloss.NewStyle().
			Foreground(TextMuted).
			Padding(0, 1).
			BorderStyle(lipgloss.NormalBorder()).
			BorderTop(true).
			BorderForeground(Border)

	// Input modal
	ModalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Primary).
			Padding(1, 2)

	// Help text
	HelpStyle = lipgloss.NewStyle().
			Foreground(TextMuted)
)

// FormatPriority returns a fixed-width priority badge
func FormatPriority(p model.Priority) string {
	switch p {
	case model.PriorityHigh:
		return PriorityHighStyle.Render("HIGH  ")
	case model.PriorityNormal:
		return PriorityNormalStyle.Render("NORMAL")
	case model.PriorityLow:
		return PriorityLowStyle.Render("LOW   ")
	}
	return "      "
}

// syncIndicator renders the connection state for the status bar
func syncIndicator(live, offline, syncing bool, pending int) string {
	switch {
	case syncing:
		return lipgloss.NewStyle().Foreground(SyncPending).Render("⟳ syncing")
	case offline:
		return lipgloss.NewStyle().Foreground(Offline).Render("○ offline")
	case !live:
		return lipgloss.NewStyle().Foreground(SyncError).Render("● reconnecting")
	case pending > 0:
		return lipgloss.NewStyle().Foreground(SyncPending).Render("● pending")
	}
	return lipgloss.NewStyle().Foreground(SyncOK).Render("● live")
}
