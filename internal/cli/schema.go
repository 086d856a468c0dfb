package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/existflow/todosync/internal/schema"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the schema for the declared operations",
	Long: `Print the GraphQL schema document covering the operations declared in
schema.operations of the config file (all operations when none are declared).`,
	Args: cobra.NoArgs,
	RunE: runSchema,
}

func runSchema(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	registry, err := schema.New(cfg.Schema.Operations...)
	if err != nil {
		return err
	}
	fmt.Print(registry.SDL())
	return nil
}
