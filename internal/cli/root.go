package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/existflow/todosync/internal/config"
	"github.com/existflow/todosync/internal/logger"
)

var (
	configPath string
	verbosity  string
)

var rootCmd = &cobra.Command{
	Use:   "todosync",
	Short: "todosync - offline-first todo list with realtime sync",
	Long: `todosync keeps a local todo list in sync with a remote endpoint.

Writes land in the local store first and are pushed in the background;
changes made elsewhere arrive over the realtime stream.

Run 'todosync' without arguments to launch the interactive list.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbosity != "" {
			switch verbosity {
			case config.VerbosityQuiet, config.VerbosityInfo, config.VerbosityVerbose:
			default:
				return fmt.Errorf("unknown verbosity %q (want quiet, info or verbose)", verbosity)
			}
		}
		logger.Debug("Command started", logger.F("command", cmd.Name()))
		return nil
	},
	RunE: runUI,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// Main runs the CLI and returns the process exit code
func Main() int {
	if err := Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var exitErr interface{ ExitCode() int }
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode()
		}
		return 1
	}
	return 0
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.todosync/config.yaml, .toml also accepted)")
	rootCmd.PersistentFlags().StringVar(&verbosity, "verbosity", "", "Logging verbosity (quiet, info, verbose)")

	// Add subcommands
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(uiCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(versionCmd)
}
