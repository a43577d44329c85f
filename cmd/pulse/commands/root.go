package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pulse",
		Short: "OpenPulse - Request Telemetry and Alerting Core",
		Long: `OpenPulse is an embedded request-telemetry layer that records and
aggregates monitoring events, rate-limits by source, evaluates alert
rules with de-duplication and best-effort notification, detects
statistical anomalies against moving baselines, samples performance
traces, and keeps an append-only audit trail behind a token gate.

Features:
  - Durable event store with indexed aggregate queries
  - Sliding-window rate limiting per (ip, environment)
  - Threshold alerts with webhook fan-out
  - Adaptive-baseline anomaly detection
  - Sampled performance traces with percentile stats
  - Token auth with synchronous audit logging
  - Periodic system snapshots mirrored to disk`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newExportCommand())
	rootCmd.AddCommand(newCleanupCommand())
	rootCmd.AddCommand(newSnapshotCommand())
	rootCmd.AddCommand(newTokenCommand())

	return rootCmd
}
