package cli

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/rmskTV/advPlanner-sub000/internal/report"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	Connector string
	Output    string
	LogLimit  int
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write an xlsx report of one connector's exchange activity",
		Long: `Write a workbook with a summary sheet (message counters and record counts),
the recent exchange log and the wire types that had no mapper.

Example:
  exchange report --connector erp --out erp.xlsx`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeReport(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Connector, "connector", "", "connector name or id (required)")
	cmd.Flags().StringVarP(&opts.Output, "out", "o", "", "output file (default <connector>-exchange.xlsx)")
	cmd.Flags().IntVar(&opts.LogLimit, "log-limit", 500, "number of log entries to include")
	_ = cmd.MarkFlagRequired("connector")

	return cmd
}

func writeReport(cmd *cobra.Command, opts *ReportOptions) error {
	cfg, logger, err := loadConfig(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if !cfg.Database.Configured() {
		logger.Warn("no database configured, the report will be empty")
	}
	ctx := cmd.Context()
	app, err := newApp(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := app.Close(context.Background()); closeErr != nil {
			logger.Error("error closing exchange resources", "error", closeErr)
		}
	}()

	target, err := app.ResolveTarget(opts.Connector)
	if err != nil {
		return err
	}
	output := opts.Output
	if output == "" {
		output = target.Connector.Name + "-exchange.xlsx"
	}
	f, err := afero.NewOsFs().Create(output)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create report file", err)
	}
	writer := report.NewWriter(app.Store, report.WithLogLimit(opts.LogLimit))
	if err := writer.Write(ctx, target.Connector, f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close report file: %w", err)
	}
	logger.Info("report written", "connector", target.Connector.Name, "file", output)
	return nil
}
