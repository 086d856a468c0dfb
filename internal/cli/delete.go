package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:     "delete [id]",
	Aliases: []string{"rm"},
	Short:   "Delete a todo",
	Long: `Delete a todo by its id or a unique id prefix. The record is kept as a
tombstone so the deletion reaches other devices.

Examples:
  todosync delete 3f2a9c1e
  todosync rm 3f2a -i`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

var deleteConfirm bool

func init() {
	deleteCmd.Flags().BoolVarP(&deleteConfirm, "interactive", "i", false, "Ask before deleting")
}

func runDelete(cmd *cobra.Command, args []string) error {
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
	todo, err := f.Get(ctx, id)
	if err != nil {
		return err
	}
	if todo.Deleted {
		fmt.Printf("Already deleted: \"%s\"\n", todo.Name)
		return nil
	}

	if deleteConfirm {
		fmt.Printf("About to delete: \"%s\" (ID: %s)\n", todo.Name, todo.ID)
		fmt.Print("Are you sure? [y/N]: ")
		var confirm string
		_, _ = fmt.Scanln(&confirm)
		if confirm != "y" && confirm != "Y" {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	if _, err := f.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete todo: %w", err)
	}
	flush(ctx, f)

	fmt.Printf("🗑️  Deleted: \"%s\"\n", todo.Name)
	return nil
}
