package cli

import (
	"github.com/spf13/cobra"

	"github.com/existflow/todosync/internal/datastore"
	"github.com/existflow/todosync/internal/tui"
)

var uiCmd = &cobra.Command{
	Use:   "ui",
	Short: "Launch the interactive list",
	Args:  cobra.NoArgs,
	RunE:  runUI,
}

func runUI(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// The alternate screen owns the terminal
	cfg.Logging.Console = false

	errs := make(chan error, 16)
	f := datastore.New(datastore.WithErrorHandler(func(err error) {
		select {
		case errs <- err:
		default:
		}
	}))
	if err := f.Initialize(ctx, cfg); err != nil {
		return err
	}
	defer f.Close()

	return tui.Run(ctx, f, errs)
}
