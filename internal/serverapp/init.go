package serverapp

import (
	"context"
	"fmt"
	"log/slog"

	"pg-tablerows/internal/config"
)

// Init initializes all runtime resources. It is idempotent.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	if a.initialized {
		a.stateMu.Unlock()
		return nil
	}
	a.stateMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	cleanup := cleanupStack{}
	success := false
	defer func() {
		if !success {
			cleanup.run(context.Background(), a.logger)
		}
	}()

	if a.loggerProvider != nil {
		cleanup.push("logger provider", func(shutdownCtx context.Context) error {
			return a.loggerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	meterProvider, rowsMetrics, accessMetrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if meterProvider != nil {
		cleanup.push("meter provider", func(shutdownCtx context.Context) error {
			return meterProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	tracerProvider, err := initTracing(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracerProvider != nil {
		cleanup.push("tracer provider", func(shutdownCtx context.Context) error {
			return tracerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	deps := routerDeps{maxPageSize: a.cfg.Server.MaxPageSize}

	var allowedRoles []string
	if a.cfg.Executor.Mode == config.ExecutorModeHTTP {
		a.logger.Info("using remote query endpoint", slog.String("url", a.cfg.Executor.URL))
		deps.executor = buildHTTPExecutor(a.cfg)
		deps.check = executorCheck(deps.executor)
	} else {
		a.logger.Info("connecting to Postgres",
			slog.String("target", a.cfg.Database.Target()),
			slog.String("user", a.cfg.Database.User),
			slog.String("sslmode", a.cfg.Database.SSLMode),
		)

		db, dbStatsReg, err := connectDB(a.cfg, a.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		cleanup.push("database", func(_ context.Context) error {
			if dbStatsReg != nil {
				if err := dbStatsReg.Unregister(); err != nil {
					a.logger.Warn("failed to unregister DB stats metrics", slog.String("error", err.Error()))
				}
			}
			return db.Close()
		})

		if err := configureDatabase(ctx, a.cfg, a.logger, db); err != nil {
			return fmt.Errorf("failed to verify database connection: %w", err)
		}

		if a.cfg.Server.Role.Enabled {
			allowedRoles, err = resolveAllowedRoles(ctx, a.cfg, a.logger, db)
			if err != nil {
				return fmt.Errorf("failed to resolve impersonation roles: %w", err)
			}
		}

		deps.executor = buildDatabaseExecutor(a.cfg, db, allowedRoles)
		deps.loadTable = catalogLoader(db)
		deps.check = db.PingContext

		a.db = db
		a.dbStatsReg = dbStatsReg
	}

	deps.service = buildService(a.cfg, a.logger, deps.executor, rowsMetrics)
	mux := buildRouter(a.cfg, a.logger, deps, meterProvider)
	handler := wrapHTTPHandler(a.cfg, a.logger, buildAPIHandler(a.cfg, a.logger, mux, allowedRoles, accessMetrics), accessMetrics)

	serverAddr := fmt.Sprintf(":%d", a.cfg.Server.Port)
	srv := buildServer(a.cfg, handler, serverAddr)
	cleanup.push("HTTP server", func(shutdownCtx context.Context) error {
		return srv.Shutdown(shutdownCtx)
	})

	a.stateMu.Lock()
	a.meterProvider = meterProvider
	a.rowsMetrics = rowsMetrics
	a.accessMetrics = accessMetrics
	a.tracerProvider = tracerProvider
	a.allowedRoles = allowedRoles
	a.executor = deps.executor
	a.service = deps.service
	a.mux = mux
	a.handler = handler
	a.serverAddr = serverAddr
	a.srv = srv
	a.cleanup = cleanup
	a.initialized = true
	a.stateMu.Unlock()

	success = true
	return nil
}
