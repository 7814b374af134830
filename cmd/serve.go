package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/studiodesk/notifier/internal/api"
	"github.com/studiodesk/notifier/internal/build"
	"github.com/studiodesk/notifier/internal/config"
	"github.com/studiodesk/notifier/internal/dispatch"
	"github.com/studiodesk/notifier/internal/server"
)

// NewServeCmd returns the "serve" subcommand that runs the dispatcher and
// the HTTP API.
func NewServeCmd(cfg *config.AppConfig) *cobra.Command {
	var port int
	var noDispatch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatch loop and the HTTP API",
		Long: `Start the notifier: the dispatch loop claims due notifications every tick,
and the HTTP API accepts new notifications, mass sends and template edits.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// CLI flags override env config.
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}

			logFile := filepath.Join(cfg.LogDir(), "system.log")
			printBanner(cmd, cfg.Port, logFile)

			if err := runServe(cmd.Context(), cfg, !noDispatch); err != nil {
				fmt.Fprintf(os.Stderr, "An error occurred. Please check the logs at: %s\n", logFile)
				return err
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", cfg.Port, "HTTP server port (overrides PORT env var)")
	cmd.Flags().BoolVar(&noDispatch, "no-dispatch", false, "Serve the API without running the dispatch loop")

	return cmd
}

func runServe(parent context.Context, cfg *config.AppConfig, dispatchEnabled bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	info := build.Current()
	a.logger.Info("notifier starting",
		slog.Int("port", cfg.Port),
		slog.String("data_dir", cfg.DataDir),
		slog.String("version", info.Version),
		slog.String("commit", info.Commit),
		slog.String("build_date", info.BuildDate),
		slog.Int("channels", len(a.channels)),
	)

	a.verifyChannels(ctx)

	if n, err := a.importSeeds(ctx, cfg.TemplatesFile); err != nil {
		return fmt.Errorf("importing templates: %w", err)
	} else if n > 0 {
		a.logger.Info("templates imported", "count", n, "file", cfg.TemplatesFile)
	}

	var ticker api.Ticker
	if dispatchEnabled {
		sched, err := dispatch.NewScheduler(a.dispatcher, cfg.TickInterval, a.clock, a.logger.With("component", "scheduler"))
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := sched.Stop(); err != nil {
				a.logger.Error("stopping scheduler", "error", err)
			}
		}()
		ticker = a.dispatcher
	}

	apiSrv := api.New(a.notificationSvc, a.templateSvc, ticker, a.clock, a.logger)
	srv := server.New(apiSrv, server.Options{
		Port:           cfg.Port,
		AllowedOrigins: cfg.CORSOrigins,
		Gatherer:       a.registry,
		DB:             a.db,
	}, a.logger)

	a.logger.Info("server ready", "url", fmt.Sprintf("http://localhost:%d", cfg.Port))
	return srv.Run(ctx)
}

// printBanner writes the startup banner to stdout. All structured logs go
// to the log file instead.
func printBanner(cmd *cobra.Command, port int, logFile string) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s running.\n", build.Current())
	fmt.Fprintf(out, "API:     http://localhost:%d/api\n", port)
	fmt.Fprintf(out, "Metrics: http://localhost:%d/metrics\n", port)
	fmt.Fprintf(out, "Logs:    %s\n\n", logFile)
}
