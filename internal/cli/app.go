package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/rmskTV/advPlanner-sub000/internal/config"
	"github.com/rmskTV/advPlanner-sub000/internal/db"
	"github.com/rmskTV/advPlanner-sub000/internal/enterprisedata"
	"github.com/rmskTV/advPlanner-sub000/internal/exchange"
	"github.com/rmskTV/advPlanner-sub000/internal/lock"
	"github.com/rmskTV/advPlanner-sub000/internal/mapping"
	"github.com/rmskTV/advPlanner-sub000/internal/observability"
	"github.com/rmskTV/advPlanner-sub000/internal/repository"
	"github.com/rmskTV/advPlanner-sub000/internal/retry"
	"github.com/rmskTV/advPlanner-sub000/internal/sanitize"
	"github.com/rmskTV/advPlanner-sub000/internal/transport"
	"github.com/rmskTV/advPlanner-sub000/internal/txn"
)

// App is the wired exchange engine shared by the commands.
type App struct {
	Config    config.Config
	Logger    *slog.Logger
	Store     repository.ExchangeStore
	Scheduler *exchange.Scheduler

	telemetry *observability.Telemetry
	closers   []func() error
}

// loadConfig reads the configuration and builds the process logger from it.
func loadConfig(opts *RootOptions, stderr io.Writer) (config.Config, *slog.Logger, error) {
	bootstrap := observability.NewLogger(observability.LogConfig{Level: opts.LogLevel, Format: "text"}, stderr)
	cfg, err := config.Load(opts.ConfigPath, bootstrap)
	if err != nil {
		return config.Config{}, nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.LogLevel != "" {
		cfg.Observability.LogLevel = opts.LogLevel
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	}, stderr)
	return cfg, logger, nil
}

// newApp connects the store, lock backend and transports and wires the
// orchestrator and scheduler. migrate applies pending schema migrations first.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger, migrate bool) (_ *App, err error) {
	app := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = app.Close(context.Background())
		}
	}()

	app.telemetry, err = observability.Setup(ctx, observability.TelemetryConfig{
		ServiceName:    cfg.Observability.ServiceName,
		OTLPEndpoint:   cfg.Observability.OTLPEndpoint,
		Insecure:       cfg.Observability.OTLPInsecure,
		ExportInterval: cfg.Observability.ExportInterval,
	}, logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to set up telemetry", err)
	}
	metrics := observability.Global()

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = cfg.Exchange.RetryAttempts

	var transactor repository.Transactor
	if cfg.Database.Configured() {
		if migrate {
			if err := db.RunMigrations(cfg.Database, logger); err != nil {
				return nil, WrapExitError(ExitCommandError, "failed to run migrations", err)
			}
		}
		conn, err := db.NewConnection(ctx, cfg.Database)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to connect to database", err)
		}
		app.closers = append(app.closers, func() error { conn.Close(); return nil })
		manager := txn.NewManager(conn.Pool, txn.WithLogger(logger))
		transactor = repository.NewPgTransactor(manager)
		app.Store = repository.NewStore(conn.Pool)
	} else {
		logger.Warn("no database configured, exchange state is kept in memory only")
		memory := repository.NewMemoryStore()
		transactor = memory
		app.Store = memory
	}

	var locker lock.Locker
	if cfg.Redis.Addr != "" {
		client := lock.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, WrapExitError(ExitCommandError, "failed to reach redis", err)
		}
		app.closers = append(app.closers, client.Close)
		locker = lock.NewRedisLocker(client,
			lock.WithRedisPrefix(cfg.Redis.Prefix),
			lock.WithRedisTTL(cfg.Exchange.LockTTL),
			lock.WithRedisLogger(logger),
		)
	} else {
		locker = lock.NewMemoryLocker(lock.WithTTL(cfg.Exchange.LockTTL), lock.WithLogger(logger))
	}

	connectors, err := cfg.ConnectorDomains()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid connectors", err)
	}
	targets := make([]exchange.Target, 0, len(connectors))
	for _, connector := range connectors {
		driver, err := transport.Open(ctx, connector.Transport)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to open transport of %s", connector.Name), err)
		}
		files, err := transport.NewManager(connector, driver, locker,
			transport.WithMaxFileSize(cfg.Exchange.MaxFileSize),
			transport.WithManagerLogger(logger),
		)
		if err != nil {
			_ = driver.Close()
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("invalid connector %s", connector.Name), err)
		}
		app.closers = append(app.closers, files.Close)
		targets = append(targets, exchange.Target{Connector: connector, Files: files})
	}

	registry, err := mapping.DefaultRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to build mapping registry: %w", err)
	}
	orchestrator, err := exchange.NewOrchestrator(exchange.Dependencies{
		Transactor: transactor,
		Store:      app.Store,
		Registry:   registry,
		Sanitizer: sanitize.New(sanitize.Config{
			MaxDepth:        cfg.Exchange.MaxDepth,
			MaxStringLength: cfg.Exchange.MaxStringLength,
		}),
		Codec: enterprisedata.NewCodec(
			enterprisedata.WithMaxSize(cfg.Exchange.MaxFileSize),
			enterprisedata.WithTabularSections(cfg.Exchange.TabularSections...),
		),
	},
		exchange.WithWorkers(cfg.Exchange.Workers),
		exchange.WithBatchSize(cfg.Exchange.BatchSize),
		exchange.WithRetryPolicy(policy),
		exchange.WithSlowThreshold(cfg.Exchange.SlowThreshold),
		exchange.WithSupportedVersions(cfg.Exchange.SupportedVersions...),
		exchange.WithLogger(logger),
		exchange.WithMetrics(metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	app.Scheduler = exchange.NewScheduler(orchestrator, targets,
		exchange.WithPollInterval(cfg.Exchange.PollInterval),
		exchange.WithLockSweeper(locker),
		exchange.WithSchedulerLogger(logger),
	)
	return app, nil
}

// ResolveTarget finds a connector by ID or name.
func (a *App) ResolveTarget(ref string) (exchange.Target, error) {
	ref = strings.TrimSpace(ref)
	if id, err := uuid.Parse(ref); err == nil {
		if target, ok := a.Scheduler.Target(id); ok {
			return target, nil
		}
	}
	for _, target := range a.Scheduler.Targets() {
		if strings.EqualFold(target.Connector.Name, ref) {
			return target, nil
		}
	}
	return exchange.Target{}, WrapExitError(ExitCommandError, fmt.Sprintf("connector %q", ref), exchange.ErrUnknownConnector)
}

// Close releases transports, lock and database connections in reverse order
// and flushes telemetry.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		a.telemetry = nil
	}
	return errors.Join(errs...)
}
