package cli

import (
	"github.com/spf13/cobra"

	"github.com/rmskTV/advPlanner-sub000/internal/db"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if !cfg.Database.Configured() {
				return WrapExitError(ExitCommandError, "no database configured (set database.url or EXCHANGE_DATABASE_URL)", nil)
			}
			if err := db.RunMigrations(cfg.Database, logger); err != nil {
				return WrapExitError(ExitCommandError, "failed to run migrations", err)
			}
			return nil
		},
	}
}
