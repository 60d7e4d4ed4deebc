package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rmskTV/advPlanner-sub000/internal/api"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr            string
	SkipMigrations  bool
	ShutdownTimeout time.Duration
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Poll every connector and serve the admin API",
		Long: `Run the exchange scheduler for every configured connector and expose the
admin API (connectors, exchange logs, unmapped types, xlsx reports and manual runs).

Example:
  exchange serve --config /etc/exchange
  EXCHANGE_DATABASE_URL=postgres://localhost/exchange exchange serve --addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default http.addr from config)")
	cmd.Flags().BoolVar(&opts.SkipMigrations, "skip-migrations", false, "do not apply schema migrations on start")
	cmd.Flags().DurationVar(&opts.ShutdownTimeout, "shutdown-timeout", 30*time.Second, "grace period for in-flight requests")

	return cmd
}

func serve(cmd *cobra.Command, opts *ServeOptions) error {
	cfg, logger, err := loadConfig(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, logger, !opts.SkipMigrations)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := app.Close(context.Background()); closeErr != nil {
			logger.Error("error closing exchange resources", "error", closeErr)
		}
	}()

	addr := cfg.HTTP.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}
	apiServer := api.NewServer(app.Scheduler, app.Store,
		api.WithAllowedOrigins(cfg.HTTP.AllowedOrigins...),
		api.WithLogger(logger),
	)
	server := &http.Server{
		Addr:         addr,
		Handler:      apiServer.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute, // manual runs answer when the cycle ends
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.Scheduler.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("admin API listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "server stopped", err)
	}
	logger.Info("server exited")
	return nil
}
