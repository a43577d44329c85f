package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openpulse/openpulse/pkg/snapshot"
)

func newSnapshotCommand() *cobra.Command {
	var (
		label       string
		environment string
		latest      bool
		list        int
	)

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Take or inspect system snapshots",
		Long: `Capture an on-demand snapshot of process and monitoring metrics,
or inspect stored snapshots. Each captured snapshot is persisted to
the store and mirrored to a JSON artifact in the configured
directory.`,
		Example: `  # Capture a snapshot before a deploy
  pulse snapshot --label pre-deploy --environment prod

  # Show the most recent snapshot
  pulse snapshot --latest

  # List the last ten snapshots
  pulse snapshot --list 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			taker := snapshot.NewTaker(a.store, nil, a.logger, a.cfg.Snapshots.Dir)
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")

			switch {
			case latest:
				snap, err := taker.Latest(ctx, environment)
				if err != nil {
					return err
				}
				if snap == nil {
					fmt.Println("No snapshots recorded")
					return nil
				}
				return enc.Encode(snap)

			case list > 0:
				snaps, err := taker.List(ctx, list)
				if err != nil {
					return err
				}
				return enc.Encode(snaps)

			default:
				if environment == "" {
					environment = a.cfg.Environment
				}
				snap, err := taker.Take(ctx, label, environment)
				if err != nil {
					return err
				}
				fmt.Printf("Snapshot %s captured", snap.ID)
				if snap.ArtifactPath != "" {
					fmt.Printf(" (artifact: %s)", snap.ArtifactPath)
				}
				fmt.Println()
				return nil
			}
		},
	}

	cmd.Flags().StringVarP(&label, "label", "l", "manual", "snapshot label")
	cmd.Flags().StringVarP(&environment, "environment", "e", "", "environment (default from config)")
	cmd.Flags().BoolVar(&latest, "latest", false, "print the most recent snapshot")
	cmd.Flags().IntVar(&list, "list", 0, "list the N most recent snapshots")

	return cmd
}
