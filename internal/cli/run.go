package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rmskTV/advPlanner-sub000/internal/exchange"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Connector      string
	Direction      string
	SkipMigrations bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one exchange cycle and exit",
		Long: `Process incoming messages and/or send one outgoing message, print the cycle
reports as JSON and exit. The exit code is 1 when any file failed.

Example:
  exchange run
  exchange run --connector erp --direction incoming`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCycle(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Connector, "connector", "", "connector name or id (default all)")
	cmd.Flags().StringVar(&opts.Direction, "direction", string(exchange.RunBoth), "incoming, outgoing or both")
	cmd.Flags().BoolVar(&opts.SkipMigrations, "skip-migrations", false, "do not apply schema migrations first")

	return cmd
}

func runCycle(cmd *cobra.Command, opts *RunOptions) error {
	direction, err := exchange.ParseRunDirection(opts.Direction)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --direction", err)
	}
	cfg, logger, err := loadConfig(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	app, err := newApp(ctx, cfg, logger, !opts.SkipMigrations)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := app.Close(context.Background()); closeErr != nil {
			logger.Error("error closing exchange resources", "error", closeErr)
		}
	}()

	targets := app.Scheduler.Targets()
	if opts.Connector != "" {
		target, err := app.ResolveTarget(opts.Connector)
		if err != nil {
			return err
		}
		targets = []exchange.Target{target}
	}
	if len(targets) == 0 {
		return WrapExitError(ExitCommandError, "no connectors configured", nil)
	}

	var (
		reports []exchange.CycleReport
		errs    []error
		failed  int
	)
	for _, target := range targets {
		out, err := app.Scheduler.Trigger(ctx, target.Connector.ID, direction)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", target.Connector.Name, err))
		}
		for _, report := range out {
			failed += report.Failed()
		}
		reports = append(reports, out...)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(reports); err != nil {
		return fmt.Errorf("failed to write reports: %w", err)
	}

	if err := errors.Join(errs...); err != nil {
		return WrapExitError(ExitFailure, "exchange run failed", err)
	}
	if failed > 0 {
		return WrapExitError(ExitFailure, fmt.Sprintf("%d file(s) failed", failed), nil)
	}
	return nil
}
