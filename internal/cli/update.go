package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/existflow/todosync/internal/model"
)

var updateCmd = &cobra.Command{
	Use:   "update [id]",
	Short: "Change a todo",
	Long: `Change the name, description or priority of a todo.

The expected version is the version you last saw; it defaults to the
version in the local store. If the remote has moved on, its state wins.

Examples:
  todosync update 3f2a9c1e --name "Buy oat milk"
  todosync update 3f2a9c1e -p HIGH --expected-version 2
  todosync update 3f2a9c1e -d ""   # remove the description`,
	Args: cobra.ExactArgs(1),
	RunE: runUpdate,
}

var (
	updateName            string
	updateDescription     string
	updatePriority        string
	updateExpectedVersion int64
)

func init() {
	updateCmd.Flags().StringVarP(&updateName, "name", "n", "", "New name")
	updateCmd.Flags().StringVarP(&updateDescription, "description", "d", "", "New description")
	updateCmd.Flags().StringVarP(&updatePriority, "priority", "p", "", "New priority (LOW, NORMAL, HIGH)")
	updateCmd.Flags().Int64Var(&updateExpectedVersion, "expected-version", -1, "Version the change is based on")
}

func runUpdate(cmd *cobra.Command, args []string) error {
	var fields model.Fields
	if cmd.Flags().Changed("name") {
		fields.Name = model.String(updateName)
	}
	if cmd.Flags().Changed("description") {
		if updateDescription == "" {
			fields.ClearDescription = true
		} else {
			fields.Description = model.String(updateDescription)
		}
	}
	if cmd.Flags().Changed("priority") {
		p, err := model.ParsePriority(updatePriority)
		if err != nil {
			return err
		}
		fields.Priority = model.PriorityOf(p)
	}
	if fields.IsEmpty() {
		return fmt.Errorf("nothing to update: pass --name, --description or --priority")
	}

	ctx, cancel := commandContext()
	defer cancel()

	f, _, err := openFacade(ctx)
	if err != nil {
		return err
	}
	defer f.Close()

	id, err := resolveID(ctx, f, args[0])
	if err != nil {
		return err
	}

	expected := updateExpectedVersion
	if expected < 0 {
		current, err := f.Get(ctx, id)
		if err != nil {
			return err
		}
		expected = current.Version
	}

	todo, err := f.Update(ctx, id, fields, expected)
	if err != nil {
		return fmt.Errorf("failed to update todo: %w", err)
	}
	flush(ctx, f)

	// The push may have resolved a conflict in favor of the remote
	if latest, err := f.Get(ctx, id); err == nil {
		todo = latest
	}
	fmt.Printf("✓ Updated \"%s\" (%s, v%d)\n", todo.Name, shortID(todo.ID), todo.Version)
	return nil
}
