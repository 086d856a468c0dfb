package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// View renders the UI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	mainContent := m.renderList()
	statusBar := m.renderStatusBar()

	// Add modal if in input mode
	if m.mode == ModeAdd || m.mode == ModeEdit || m.mode == ModeFilter {
		mainContent = lipgloss.Place(
			m.width, m.height-2,
			lipgloss.Center, lipgloss.Center,
			m.renderModal(),
			lipgloss.WithWhitespaceChars(" "),
		)
	}

	if m.mode == ModeHelp {
		mainContent = m.renderHelp()
	}

	// Combine with status bar
	return lipgloss.JoinVertical(lipgloss.Left, mainContent, statusBar)
}

func (m Model) renderList() string {
	width := m.width - 4
	var s strings.Builder

	// Header
	live := 0
	for _, t := range m.todos {
		if !t.Deleted {
			live++
		}
	}
	header := fmt.Sprintf("todosync (%d todos)", live)
	clock := HelpStyle.Render(time.Now().Format("15:04:05"))
	gap := width - 4 - lipgloss.Width(header) - lipgloss.Width(clock)
	if gap < 1 {
		gap = 1
	}
	s.WriteString(HeaderStyle.Render(header) + strings.Repeat(" ", gap) + clock + "\n")
	s.WriteString(lipgloss.NewStyle().Foreground(Border).Render(strings.Repeat("─", max(width-4, 1))) + "\n\n")

	if len(m.todos) == 0 {
		s.WriteString(HelpStyle.Render("  No todos. Press 'a' to add one."))
	}

	matches := make(map[int]bool, len(m.matchIndices))
	for _, idx := range m.matchIndices {
		matches[idx] = true
	}

	nameWidth := width - 40
	if nameWidth < 10 {
		nameWidth = 10
	}
	for i, t := range m.todos {
		cursor := "  "
		style := ItemStyle
		switch {
		case i == m.cursor:
			cursor = "❯ "
			style = ItemSelectedStyle
		case t.Deleted:
			style = ItemDeletedStyle
		case matches[i]:
			style = ItemMatchStyle
		}

		box := "[ ]"
		if t.Deleted {
			box = "[-]"
		}
		name := truncate(t.Name, nameWidth)
		if d := t.DescriptionText(); d != "" && lipgloss.Width(name) < nameWidth-4 {
			name += HelpStyle.Render("  " + truncate(d, nameWidth-lipgloss.Width(name)-2))
		}
		line := fmt.Sprintf("%s%s %s  %s  %s  %s",
			cursor, box, FormatPriority(t.Priority), shortID(t.ID), name, HelpStyle.Render(versionLabel(t)))
		s.WriteString(style.Render(line) + "\n")
	}

	return ListStyle.Width(m.width).Height(m.height - 2).Render(s.String())
}

func (m Model) renderStatusBar() string {
	indicator := syncIndicator(m.live, m.offline, m.syncing, m.pendingCount())

	last := "never"
	if !m.lastSync.IsZero() {
		last = m.lastSync.Format("15:04:05")
	}
	left := fmt.Sprintf("%s  pending %d  last sync %s", indicator, m.pendingCount(), last)
	if m.message != "" {
		left += "  │ " + m.message
	}
	right := HelpStyle.Render("? help")

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 1 {
		gap = 1
	}
	return StatusBarStyle.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}

func (m Model) renderModal() string {
	var title string
	switch m.mode {
	case ModeAdd:
		title = "New Todo"
	case ModeEdit:
		title = "Edit Todo"
	case ModeFilter:
		title = fmt.Sprintf("Filter (%d matches)", len(m.matchIndices))
	}

	content := HeaderStyle.Render(title) + "\n\n" +
		m.input.View() + "\n\n" +
		HelpStyle.Render("enter confirm • esc cancel")
	return ModalStyle.Render(content)
}

func (m Model) renderHelp() string {
	var s strings.Builder
	s.WriteString(HeaderStyle.Render("Keyboard Shortcuts") + "\n\n")
	for _, b := range helpKeys() {
		h := b.Help()
		s.WriteString(fmt.Sprintf("  %-8s %s\n", h.Key, h.Desc))
	}
	s.WriteString("\n" + HelpStyle.Render("Press any key to return"))
	return ListStyle.Width(m.width).Height(m.height - 2).Render(s.String())
}
