package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
}

// NewRootCommand creates the root command of the exchange CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "exchange",
		Short: "EnterpriseData file exchange with 1C peers",
		Long: `Exchange business objects with 1C:Enterprise peers through EnterpriseData
XML message files dropped on FTP, S3 or a local directory.

Configuration is read from config.yaml in --config and EXCHANGE_* environment
variables. Without a database the engine runs against an in-memory store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", ".", "directory containing config.yaml")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override observability.log_level (debug|info|warn|error)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewReportCommand(opts))

	return cmd
}
