package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/livinlefevreloca/stakequeue/internal/config"
	"github.com/livinlefevreloca/stakequeue/internal/db"
)

// NewMigrateCommand creates the migrate command
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to the SQLite database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := rootOpts.load(cmd)
			if err != nil {
				return err
			}
			if cfg.Store.Backend != config.BackendSQL {
				return fmt.Errorf("migrate applies to the %s backend, configured backend is %s",
					config.BackendSQL, cfg.Store.Backend)
			}

			dbConfig := cfg.Database
			dbConfig.SkipMigrations = true
			database, err := db.OpenWithConfig(dbConfig)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer database.Close()

			before, err := database.SchemaVersion()
			if err != nil {
				return err
			}
			logger.Info("running migrations", "dsn", dbConfig.DSN, "version", before)

			if err := database.Migrate(); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			after, err := database.SchemaVersion()
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d -> %d\n", before, after)
			return nil
		},
	}
}
