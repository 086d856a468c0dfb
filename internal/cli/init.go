package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/existflow/todosync/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file",
	Long: `Write a config file with the default settings and the given overrides.
A path ending in .toml is written as TOML, anything else as YAML.

Examples:
  todosync init --endpoint https://todos.example.com --api-key k-123
  todosync init --auth-mode user_pool --username alice
  todosync --config ./todosync.toml init --store :memory:`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

var (
	initEndpoint    string
	initAuthMode    string
	initAPIKey      string
	initAccessKeyID string
	initSecretKey   string
	initUsername    string
	initStore       string
	initOperations  []string
	initForce       bool
)

func init() {
	initCmd.Flags().StringVar(&initEndpoint, "endpoint", "", "Remote endpoint URL")
	initCmd.Flags().StringVar(&initAuthMode, "auth-mode", "", "Authorization mode (api_key, iam, user_pool)")
	initCmd.Flags().StringVar(&initAPIKey, "api-key", "", "API key for auth mode api_key")
	initCmd.Flags().StringVar(&initAccessKeyID, "access-key-id", "", "Access key id for auth mode iam")
	initCmd.Flags().StringVar(&initSecretKey, "secret-access-key", "", "Secret access key for auth mode iam")
	initCmd.Flags().StringVar(&initUsername, "username", "", "Username for auth mode user_pool")
	initCmd.Flags().StringVar(&initStore, "store", "", "Local store path, or :memory:")
	initCmd.Flags().StringSliceVar(&initOperations, "operations", nil, "Declared operations (default all)")
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := resolvedConfigPath()
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
	}

	cfg := config.DefaultConfig()
	if initEndpoint != "" {
		cfg.API.Endpoint = initEndpoint
	}
	if initAuthMode != "" {
		cfg.API.AuthMode = initAuthMode
	}
	cfg.API.APIKey = initAPIKey
	cfg.API.AccessKeyID = initAccessKeyID
	cfg.API.SecretAccessKey = initSecretKey
	cfg.API.Username = initUsername
	if initStore != "" {
		cfg.Storage.Path = initStore
	}
	cfg.Schema.Operations = initOperations
	if verbosity != "" {
		cfg.Logging.Verbosity = verbosity
	}

	switch cfg.API.AuthMode {
	case config.AuthAPIKey, config.AuthIAM, config.AuthUserPool:
	default:
		return fmt.Errorf("unknown auth mode %q", cfg.API.AuthMode)
	}

	if err := cfg.Save(path); err != nil {
		return err
	}
	fmt.Printf("✓ Wrote %s\n", path)
	if cfg.API.AuthMode == config.AuthUserPool {
		fmt.Println("  Run 'todosync auth login' to sign in.")
	}
	return nil
}
