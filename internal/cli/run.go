package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/livinlefevreloca/stakequeue/internal/api"
	"github.com/livinlefevreloca/stakequeue/internal/app"
)

// NewRunCommand creates the run command
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the synchronizer and the HTTP API",
		Long: `Run the synchronizer, the snapshot refresher and, when enabled, the HTTP API
until SIGINT or SIGTERM. A sync pass in progress is allowed to finish.

Example:
  stakequeue run --config /etc/stakequeue.toml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, rootOpts)
		},
	}
}

func run(cmd *cobra.Command, opts *RootOptions) error {
	cfg, logger, err := opts.load(cmd)
	if err != nil {
		return err
	}

	logger.Info("starting stakequeue",
		"backend", cfg.Store.Backend,
		"dsn", cfg.Database.DSN,
		"executor", cfg.Executor.Mode)

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.Start(ctx)

	var (
		server    *api.Server
		serverErr <-chan error
	)
	if cfg.HTTP.Enabled {
		apiOpts := api.Options{Registry: a.Registry()}
		if bridge := a.Bridge(); bridge != nil {
			apiOpts.Signer = bridge
		}
		server = api.NewServer(cfg.HTTPAddr(), a.Service(), apiOpts, logger.With("component", "api"))
		server.Start()
		serverErr = server.Err()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down gracefully")
	case runErr = <-serverErr:
		logger.Error("http server stopped, shutting down", "error", runErr)
	}

	var result *multierror.Error
	if runErr != nil {
		result = multierror.Append(result, fmt.Errorf("http: %w", runErr))
	}
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		if err := server.Shutdown(shutdownCtx); err != nil {
			result = multierror.Append(result, fmt.Errorf("http shutdown: %w", err))
		}
		cancel()
	}
	if err := a.Stop(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
