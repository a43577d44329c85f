package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/openpulse/openpulse/pkg/config"
	"github.com/openpulse/openpulse/pkg/stores"
	"github.com/openpulse/openpulse/pkg/telemetry"
)

// app bundles the pieces every subcommand needs: configuration, the
// application logger, and the opened store.
type app struct {
	cfg    *config.Config
	logger *telemetry.Logger
	store  *stores.SQLiteStore
}

// openApp loads configuration and opens the store. The caller must
// Close the returned app.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if jsonOutput {
		cfg.Telemetry.Logging.Format = "json"
	}

	logger, err := telemetry.NewLogger(cfg.Telemetry.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Storage.Path})
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &app{cfg: cfg, logger: logger, store: store}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func cutoffTime(days int) time.Time {
	return time.Now().AddDate(0, 0, -days)
}
