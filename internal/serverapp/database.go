package serverapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/lib/pq"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"pg-tablerows/internal/config"
	"pg-tablerows/internal/introspection"
	"pg-tablerows/internal/logging"
)

// maxConnectBackoff caps the startup retry interval.
const maxConnectBackoff = 30 * time.Second

func connectDB(cfg *config.Config, logger *logging.Logger) (*sql.DB, interface{ Unregister() error }, error) {
	connector, err := pq.NewConnector(cfg.Database.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("invalid connection settings: %w", err)
	}

	if !cfg.Observability.MetricsEnabled && !cfg.Observability.TracingEnabled {
		return sql.OpenDB(connector), nil, nil
	}

	opts := []otelsql.Option{
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	}
	if cfg.Observability.TracingEnabled {
		opts = append(opts, otelsql.WithSpanOptions(otelsql.SpanOptions{
			DisableErrSkip: true,
		}))
		if cfg.Observability.SQLCommenterEnabled {
			opts = append(opts, otelsql.WithSQLCommenter(true))
		}
	}

	db := otelsql.OpenDB(connector, opts...)

	var dbStatsReg interface{ Unregister() error }
	if cfg.Observability.MetricsEnabled {
		dbStatsReg, err = otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(semconv.DBSystemPostgreSQL))
		if err != nil {
			logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
			dbStatsReg = nil
		}
	}

	logger.Info("database instrumentation enabled",
		slog.Bool("metrics", cfg.Observability.MetricsEnabled),
		slog.Bool("tracing", cfg.Observability.TracingEnabled),
		slog.Bool("sqlcommenter", cfg.Observability.SQLCommenterEnabled && cfg.Observability.TracingEnabled),
	)
	return db, dbStatsReg, nil
}

func configureDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB) error {
	db.SetMaxOpenConns(cfg.Database.Pool.MaxOpen)
	db.SetMaxIdleConns(cfg.Database.Pool.MaxIdle)
	db.SetConnMaxLifetime(cfg.Database.Pool.MaxLifetime)

	if err := waitForDatabase(ctx, cfg, logger, db.PingContext, sleepContext); err != nil {
		return err
	}

	logger.Info("connected to database",
		slog.String("target", cfg.Database.Target()),
		slog.Int("pool_max_open", cfg.Database.Pool.MaxOpen),
		slog.Int("pool_max_idle", cfg.Database.Pool.MaxIdle),
		slog.Duration("pool_max_lifetime", cfg.Database.Pool.MaxLifetime),
	)
	return nil
}

// waitForDatabase pings until the database answers or the connection timeout
// passes, doubling the interval between attempts. A zero timeout tries once.
func waitForDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, ping func(context.Context) error, sleep func(context.Context, time.Duration) error) error {
	timeout := cfg.Database.ConnectionTimeout
	interval := cfg.Database.ConnectionRetryInterval

	if timeout == 0 {
		return ping(ctx)
	}

	deadline := time.Now().Add(timeout)
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := ping(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("database connection established", slog.Int("attempts", attempt))
			}
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("database not available after %v: %w", timeout, err)
		}

		logger.Warn("database not ready, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", interval),
			slog.String("error", err.Error()),
		)
		if err := sleep(ctx, interval); err != nil {
			return err
		}
		interval = min(interval*2, maxConnectBackoff)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// resolveAllowedRoles returns the configured allowlist, or the roles granted
// to the connecting user when none is configured.
func resolveAllowedRoles(ctx context.Context, cfg *config.Config, logger *logging.Logger, db introspection.Queryer) ([]string, error) {
	if len(cfg.Server.Role.Allowed) > 0 {
		roles := slices.Clone(cfg.Server.Role.Allowed)
		slices.Sort(roles)
		roles = slices.Compact(roles)
		logger.Info("role impersonation enabled", slog.Any("roles", roles), slog.String("source", "config"))
		return roles, nil
	}

	roles, err := introspection.DiscoverRoles(ctx, db)
	if err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		logger.Warn("role impersonation enabled but the connecting user is not a member of any role")
	}
	logger.Info("role impersonation enabled", slog.Any("roles", roles), slog.String("source", "discovered"))
	return roles, nil
}

// catalogLoader describes tables using the pool's own credentials.
func catalogLoader(db introspection.Queryer) tableLoader {
	return func(ctx context.Context, schema, name string) (*introspection.Table, error) {
		return introspection.LoadTable(ctx, db, schema, name)
	}
}
