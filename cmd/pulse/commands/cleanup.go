package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCleanupCommand() *cobra.Command {
	var (
		days       int
		keepTraces bool
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete events older than a retention window",
		Long: `Remove stored events (and, unless --keep-traces is set, durable
traces) older than the given number of days. Deletion is
irreversible; the deleted counts are always logged and printed.`,
		Example: `  # Drop everything older than a week
  pulse cleanup --days 7`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			cutoffDays := days
			if cutoffDays <= 0 {
				cutoffDays = a.cfg.Storage.RetentionDays
			}

			deleted, err := a.store.DeleteEventsBefore(ctx, cutoffTime(cutoffDays))
			if err != nil {
				return err
			}
			a.logger.WithField("deleted", deleted).WithField("older_than_days", cutoffDays).Info("event cleanup completed")
			fmt.Printf("Deleted %d events older than %d days\n", deleted, cutoffDays)

			if !keepTraces {
				deletedTraces, err := a.store.DeleteTracesBefore(ctx, cutoffTime(cutoffDays))
				if err != nil {
					return err
				}
				a.logger.WithField("deleted", deletedTraces).Info("trace cleanup completed")
				fmt.Printf("Deleted %d traces older than %d days\n", deletedTraces, cutoffDays)
			}

			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "retention window in days (default from config)")
	cmd.Flags().BoolVar(&keepTraces, "keep-traces", false, "leave durable traces in place")

	return cmd
}
