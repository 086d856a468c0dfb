package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every matching todo",
	Long: `Delete every live todo, or only those matching the --where filters.
The deletions sync like any other.

Examples:
  todosync clear --force
  todosync clear --where "priority eq LOW"`,
	Args: cobra.NoArgs,
	RunE: runClear,
}

var (
	clearWhere []string
	clearForce bool
)

func init() {
	clearCmd.Flags().StringArrayVarP(&clearWhere, "where", "w", nil, "Filter condition \"field op value\"")
	clearCmd.Flags().BoolVar(&clearForce, "force", false, "Do not ask for confirmation")
}

func runClear(cmd *cobra.Command, args []string) error {
	filter, err := parseWhere(clearWhere, false)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	f, _, err := openFacade(ctx)
	if err != nil {
		return err
	}
	defer f.Close()

	todos, err := f.Query(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to list todos: %w", err)
	}
	if len(todos) == 0 {
		fmt.Println("Nothing to clear.")
		return nil
	}

	if !clearForce {
		fmt.Printf("Delete %d todo(s)? (y/N): ", len(todos))
		var response string
		_, _ = fmt.Scanln(&response)
		if strings.ToLower(response) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("🧹 Clearing todos...")
	for _, t := range todos {
		if _, err := f.Delete(ctx, t.ID); err != nil {
			return fmt.Errorf("failed to delete %s: %w", shortID(t.ID), err)
		}
	}
	flush(ctx, f)

	fmt.Printf("Cleared %d todo(s).\n", len(todos))
	return nil
}
