package tui

import (
	"fmt"

	"github.com/existflow/todosync/internal/model"
)

// truncate shortens a string to max runes with ellipsis
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// versionLabel is "local" until the remote acknowledges the record
func versionLabel(t model.Todo) string {
	if t.IsPending() {
		return "local"
	}
	return fmt.Sprintf("v%d", t.Version)
}
