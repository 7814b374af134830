package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/studiodesk/notifier/internal/build"
	"github.com/studiodesk/notifier/internal/config"
)

// NewRootCmd returns the notifier command tree bound to cfg.
func NewRootCmd(cfg *config.AppConfig) *cobra.Command {
	root := &cobra.Command{
		Use:   "notifier",
		Short: "Studio notification dispatch service",
		Long: `notifier delivers templated Telegram and email messages from a persistent
queue under per-channel rate limits, retrying transient failures with
exponential backoff.`,
		Version:       build.Current().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(NewServeCmd(cfg))
	root.AddCommand(NewTickCmd(cfg))
	root.AddCommand(NewTemplatesCmd(cfg))
	root.AddCommand(NewVersionCmd())
	return root
}

// Execute loads the configuration and runs the root command.
func Execute() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := NewRootCmd(cfg).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
