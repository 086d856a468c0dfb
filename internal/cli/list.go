package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/existflow/todosync/internal/datastore"
	"github.com/existflow/todosync/internal/model"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List todos",
	Long: `List todos from the local store, oldest first.

Filters take the form "field op value"; several --where flags are combined.
Operators: eq, ne, lt, le, gt, ge, between, contains, beginsWith.

Examples:
  todosync list
  todosync list --where "priority eq HIGH"
  todosync list --where "name contains milk" --all
  todosync list --where "priority between LOW NORMAL"`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var getCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Show one todo",
	Long: `Show one todo, including deleted ones. A unique id prefix is enough.

Examples:
  todosync get 3f2a9c1e`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

var (
	listWhere []string
	listAll   bool
	listSync  bool
	listJSON  bool
	getJSON   bool
)

func init() {
	listCmd.Flags().StringArrayVarP(&listWhere, "where", "w", nil, "Filter condition \"field op value\"")
	listCmd.Flags().BoolVarP(&listAll, "all", "a", false, "Include deleted todos")
	listCmd.Flags().BoolVarP(&listSync, "sync", "s", false, "Sync with the endpoint before listing")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Print JSON")
	getCmd.Flags().BoolVar(&getJSON, "json", false, "Print JSON")
}

// parseWhere turns "field op value" expressions into a filter
func parseWhere(exprs []string, includeDeleted bool) (model.Filter, error) {
	filter := model.Filter{IncludeDeleted: includeDeleted}
	for _, expr := range exprs {
		parts := strings.Fields(expr)
		if len(parts) < 3 {
			return model.Filter{}, fmt.Errorf("invalid filter %q: want \"field op value\"", expr)
		}
		field, op := parts[0], model.Op(parts[1])
		if op == model.OpBetween {
			if len(parts) != 4 {
				return model.Filter{}, fmt.Errorf("invalid filter %q: between takes two values", expr)
			}
			filter = filter.Between(field, parts[2], parts[3])
			continue
		}
		filter = filter.Where(field, op, strings.Join(parts[2:], " "))
	}
	return filter, nil
}

func runList(cmd *cobra.Command, args []string) error {
	filter, err := parseWhere(listWhere, listAll)
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

	MaybeSync(ctx, f, listSync)

	todos, err := f.Query(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to list todos: %w", err)
	}

	if listJSON {
		return printJSON(todos)
	}
	if len(todos) == 0 {
		fmt.Println("No todos found. Add one with: todosync add \"Your todo\"")
		return nil
	}
	printTodos(todos)
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
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

	if getJSON {
		return printJSON(todo)
	}
	printDetail(todo)
	return nil
}

// resolveID expands a unique id prefix to the full id
func resolveID(ctx context.Context, f *datastore.Facade, arg string) (string, error) {
	if _, err := f.Get(ctx, arg); err == nil {
		return arg, nil
	}
	matches, err := f.Query(ctx, model.Filter{IncludeDeleted: true}.Where(model.FieldID, model.OpBeginsWith, arg))
	if err != nil {
		return "", err
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("todo %s: %w", arg, model.ErrNotFound)
	case 1:
		return matches[0].ID, nil
	}
	return "", fmt.Errorf("id prefix %q matches %d todos", arg, len(matches))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTodos(todos []model.Todo) {
	fmt.Println()
	fmt.Println(strings.Repeat("─", 72))
	for _, t := range todos {
		printTodo(t)
	}
	fmt.Println()
}

func printTodo(t model.Todo) {
	// Status icon
	icon := "[ ]"
	if t.Deleted {
		icon = "[-]"
	}

	// Priority indicator
	priority := ""
	switch t.Priority {
	case model.PriorityHigh:
		priority = "▲ HIGH"
	case model.PriorityNormal:
		priority = "  NORMAL"
	case model.PriorityLow:
		priority = "  LOW"
	}

	// Unacknowledged by the remote
	state := fmt.Sprintf("v%d", t.Version)
	if t.IsPending() {
		state = "local"
	}

	fmt.Printf("  %s  %-8s  %-40s  %-8s  %s\n", icon, shortID(t.ID), truncate(t.Name, 40), priority, state)
}

func printDetail(t model.Todo) {
	fmt.Printf("ID:          %s\n", t.ID)
	fmt.Printf("Name:        %s\n", t.Name)
	if t.Description != nil {
		fmt.Printf("Description: %s\n", *t.Description)
	}
	if t.Priority != model.PriorityUnset {
		fmt.Printf("Priority:    %s\n", t.Priority)
	}
	fmt.Printf("Version:     %d\n", t.Version)
	fmt.Printf("Deleted:     %t\n", t.Deleted)
	fmt.Printf("Created:     %s\n", t.CreatedAt.Local().Format("Jan 2 15:04:05"))
	fmt.Printf("Updated:     %s\n", t.UpdatedAt.Local().Format("Jan 2 15:04:05"))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}
