package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/studiodesk/notifier/internal/config"
)

// NewTickCmd returns the "tick" subcommand that runs a single dispatch cycle
// and prints its summary. It suits deployments driven by an external cron.
func NewTickCmd(cfg *config.AppConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one dispatch cycle and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			ctx := cmd.Context()
			if _, err := a.dispatcher.ReleaseStale(ctx); err != nil {
				return err
			}
			summary := a.dispatcher.Tick(ctx)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
}
