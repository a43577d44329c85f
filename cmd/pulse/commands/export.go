package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openpulse/openpulse/pkg/export"
)

func newExportCommand() *cobra.Command {
	var (
		format string
		limit  int
		offset int
		output string
	)

	cmd := &cobra.Command{
		Use:   "export <events|alerts|audit>",
		Short: "Export stored data as CSV or JSON",
		Long: `Serialize stored events, alerts, or audit entries for offline
analysis. CSV output uses standard quoting, so fields containing
commas, quotes, or newlines survive a round trip through any
spreadsheet or CSV reader.`,
		Example: `  # Export the most recent 1000 events as CSV
  pulse export events --limit 1000 > events.csv

  # Export alert history as JSON to a file
  pulse export alerts --format json --output alerts.json

  # Page through the audit log
  pulse export audit --limit 500 --offset 500`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"events", "alerts", "audit"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			out := os.Stdout
			if output != "" {
				file, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer file.Close()
				out = file
			}

			switch args[0] {
			case "events":
				events, err := a.store.ListEvents(ctx, limit, offset)
				if err != nil {
					return err
				}
				return export.Events(out, f, events)
			case "alerts":
				alerts, err := a.store.ListAlerts(ctx, limit, offset)
				if err != nil {
					return err
				}
				return export.Alerts(out, f, alerts)
			case "audit":
				entries, err := a.store.ListAuditEntries(ctx, limit, offset)
				if err != nil {
					return err
				}
				return export.AuditEntries(out, f, entries)
			default:
				return fmt.Errorf("unknown export target %q", args[0])
			}
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "csv", "output format (csv, json)")
	cmd.Flags().IntVar(&limit, "limit", 1000, "maximum rows to export")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")

	return cmd
}
