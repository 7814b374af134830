package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/studiodesk/notifier/internal/config"
)

// NewTemplatesCmd returns the "templates" command group.
func NewTemplatesCmd(cfg *config.AppConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Manage message templates",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Upsert templates from a YAML seed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			n, err := a.importSeeds(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("importing templates: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d templates from %s\n", n, args[0])
			return nil
		},
	})
	return cmd
}
