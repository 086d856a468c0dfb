package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/existflow/todosync/internal/model"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print changes as they happen",
	Long: `Subscribe to the change stream and print one line per event until
interrupted or until the realtime stream drops.

Each line reads: kind source id name version`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var watchJSON bool

func init() {
	watchCmd.Flags().BoolVar(&watchJSON, "json", false, "Print events as JSON")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	f, _, err := openFacade(ctx)
	if err != nil {
		return err
	}
	defer f.Close()

	sub, err := f.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer sub.Cancel()

	fmt.Println("👀 Watching for changes (Ctrl+C to stop)...")
	for ev := range sub.Events() {
		if watchJSON {
			if err := printJSON(ev); err != nil {
				return err
			}
			continue
		}
		printEvent(ev)
	}

	// Interrupts end the subscription without a cause
	if err := sub.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("watch ended: %w", err)
	}
	return nil
}

func printEvent(ev model.ChangeEvent) {
	fmt.Printf("%-6s  %-6s  %s  %-40s  v%d\n",
		ev.Kind, ev.Source, shortID(ev.Record.ID), truncate(ev.Record.Name, 40), ev.Record.Version)
}
