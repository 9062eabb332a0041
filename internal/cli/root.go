// Package cli implements the stakequeue command line.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/livinlefevreloca/stakequeue/internal/app"
	"github.com/livinlefevreloca/stakequeue/internal/config"
	"github.com/livinlefevreloca/stakequeue/internal/db"
	"github.com/livinlefevreloca/stakequeue/internal/queue"
)

// RootOptions holds global flags for all commands
type RootOptions struct {
	ConfigPath string
	Database   string
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "stakequeue",
		Short: "Offline staking-operation queue",
		Long: `stakequeue records staking operations while the chain is unreachable and
replays them in order once connectivity returns, pausing at the first
operation whose preconditions no longer hold.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range ValidFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to configuration file (TOML)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "override the SQLite database DSN")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewEnqueueCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewCancelCommand(opts))
	cmd.AddCommand(NewSnapshotCommand(opts))
	cmd.AddCommand(NewProjectCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))

	return cmd
}

// load reads and validates the configuration and builds the logger
func (o *RootOptions) load(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig(o.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	if o.Database != "" {
		cfg.Database.DSN = o.Database
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := cfg.Logging.NewLogger(cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// withStore opens the configured store for the duration of fn
func (o *RootOptions) withStore(cmd *cobra.Command, fn func(*config.Config, queue.Store, *db.DB) error) error {
	cfg, logger, err := o.load(cmd)
	if err != nil {
		return err
	}

	store, database, err := app.OpenStore(cfg, nil, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(cfg, store, database)
}
