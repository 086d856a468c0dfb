package tui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/existflow/todosync/internal/datastore"
)

// Run shows the live list for an initialized facade until the user quits or
// ctx is done. errs receives background sync errors and may be nil.
func Run(ctx context.Context, f *datastore.Facade, errs <-chan error) error {
	subscribe := func(ctx context.Context) (Feed, error) {
		sub, err := f.Subscribe(ctx)
		if err != nil {
			return nil, err
		}
		return sub, nil
	}

	m := NewModel(ctx, f, subscribe, errs)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return err
	}
	return nil
}
