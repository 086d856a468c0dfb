package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/existflow/todosync/internal/model"
)

var addCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Add a new todo",
	Long: `Add a new todo. It is stored locally right away and pushed to the
remote endpoint in the background.

Examples:
  todosync add "Buy groceries"
  todosync add "Call the bank" -p HIGH
  todosync add "Write report" -d "Q3 numbers" -p LOW`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAdd,
}

var (
	addDescription string
	addPriority    string
	addQuiet       bool
)

func init() {
	addCmd.Flags().StringVarP(&addDescription, "description", "d", "", "Description")
	addCmd.Flags().StringVarP(&addPriority, "priority", "p", "", "Priority (LOW, NORMAL, HIGH)")
	addCmd.Flags().BoolVarP(&addQuiet, "quiet", "q", false, "Only print the new id")
}

func runAdd(cmd *cobra.Command, args []string) error {
	fields := model.Fields{Name: model.String(strings.Join(args, " "))}
	if cmd.Flags().Changed("description") {
		fields.Description = model.String(addDescription)
	}
	if addPriority != "" {
		p, err := model.ParsePriority(addPriority)
		if err != nil {
			return err
		}
		fields.Priority = model.PriorityOf(p)
	}

	ctx, cancel := commandContext()
	defer cancel()

	f, _, err := openFacade(ctx)
	if err != nil {
		return err
	}
	defer f.Close()

	todo, err := f.Create(ctx, fields)
	if err != nil {
		return fmt.Errorf("failed to add todo: %w", err)
	}
	flush(ctx, f)

	if addQuiet {
		fmt.Println(todo.ID)
		return nil
	}
	fmt.Printf("✓ Added \"%s\" (%s)\n", todo.Name, shortID(todo.ID))
	return nil
}
