// Package cmd defines the crawler's command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-crawler/internal/app"
	"github.com/JakeFAU/link-crawler/internal/config"
	"github.com/JakeFAU/link-crawler/internal/logging"
)

// App is what the root command drives. It is an interface so tests can inject a fake.
type App interface {
	Run(ctx context.Context) error
	Close(ctx context.Context) error
}

// newApp is the application factory, replaced in tests.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.NewApp(ctx, cfg, logger)
}

const shutdownTimeout = 15 * time.Second

// newRootCmd creates the root command. Config and the app are built in
// PersistentPreRunE; RunE always closes the app, even when the run fails.
func newRootCmd() *cobra.Command {
	var (
		cfgFile  string
		logger   *zap.Logger
		instance App
	)
	cmd := &cobra.Command{
		Use:   "crawler",
		Short: "Fetches queued links directly or from web archives and records what it finds.",
		Long: `crawler drains two task queues. The direct pool fetches each link from its
origin under per-origin rate limits; the archive pool looks links up in web
archives. Extracted text and metadata go to the blob store and each link's
outcome is written to the status table.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err = logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)

			instance, err = newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			return nil
		},

		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if closeErr := instance.Close(ctx); err == nil {
					err = closeErr
				}
				_ = logger.Sync()
			}()

			logger.Info("crawler started")
			if err := instance.Run(cmd.Context()); err != nil {
				return fmt.Errorf("crawler run: %w", err)
			}
			logger.Info("crawler stopped")
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); environment variables override it")
	return cmd
}

// Execute runs the root command until it finishes or SIGINT/SIGTERM arrives,
// returning the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return run(ctx, os.Args[1:], os.Stderr)
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "crawler:", err)
		return 1
	}
	return 0
}
