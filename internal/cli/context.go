package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/existflow/todosync/internal/config"
	"github.com/existflow/todosync/internal/datastore"
	"github.com/existflow/todosync/internal/logger"
)

// resolvedConfigPath returns the --config value or the default location
func resolvedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath()
}

// loadConfig reads the config file and applies the global flags
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolvedConfigPath())
	if err != nil {
		return nil, err
	}
	if verbosity != "" {
		cfg.Logging.Verbosity = verbosity
	}
	return cfg, nil
}

// commandContext is cancelled on interrupt
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// openFacade initializes a facade from the config file. Background sync
// errors are printed to stderr.
func openFacade(ctx context.Context, opts ...datastore.Option) (*datastore.Facade, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	opts = append([]datastore.Option{
		datastore.WithErrorHandler(func(err error) {
			fmt.Fprintf(os.Stderr, "⚠️  %v\n", err)
		}),
	}, opts...)
	f := datastore.New(opts...)
	if err := f.Initialize(ctx, cfg); err != nil {
		return nil, nil, err
	}
	logger.Debug("Facade ready", logger.F("endpoint", cfg.API.Endpoint))
	return f, cfg, nil
}
