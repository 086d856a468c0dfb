package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync todos with the endpoint",
	Long: `Push queued local changes and pull remote ones now.

Commands:
  todosync sync              # Sync now
  todosync sync status       # Show sync settings`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync settings",
	Args:  cobra.NoArgs,
	RunE:  runSyncStatus,
}

func init() {
	syncCmd.AddCommand(syncStatusCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	f, _, err := openFacade(ctx)
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Println("🔄 Synchronizing...")
	result, err := f.Sync(ctx)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	if result.Offline {
		fmt.Printf("📴 Endpoint unreachable. %s\n", describeResult(result))
		return nil
	}

	fmt.Printf("✓ Sync complete! %s\n", describeResult(result))
	return nil
}

func runSyncStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Printf("Config:    %s\n", resolvedConfigPath())
	fmt.Printf("Endpoint:  %s\n", cfg.API.Endpoint)
	fmt.Printf("Auth mode: %s\n", cfg.API.AuthMode)
	fmt.Printf("Store:     %s\n", cfg.Storage.Path)
	fmt.Printf("Poll:      %s\n", cfg.Sync.PollInterval)
	if cfg.Schema.BillingMode != "" {
		fmt.Printf("Billing:   %s\n", cfg.Schema.BillingMode)
	}
	return nil
}
