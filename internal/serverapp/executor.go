package serverapp

import (
	"context"
	"database/sql"

	"pg-tablerows/internal/config"
	"pg-tablerows/internal/dbexec"
	"pg-tablerows/internal/logging"
	"pg-tablerows/internal/middleware"
	"pg-tablerows/internal/observability"
	"pg-tablerows/internal/tablerows"
)

// buildDatabaseExecutor runs SQL on the pool. With role impersonation the
// statement runs under SET ROLE for the role the request carries.
func buildDatabaseExecutor(cfg *config.Config, db *sql.DB, allowedRoles []string) dbexec.SQLExecutor {
	queryExecutor := dbexec.QueryExecutor(dbexec.NewStandardExecutor(db))
	if cfg.Server.Role.Enabled {
		queryExecutor = dbexec.NewRoleExecutor(dbexec.RoleExecutorConfig{
			DB:           db,
			RoleFromCtx:  middleware.RoleFromContext,
			AllowedRoles: allowedRoles,
			ValidateRole: true,
		})
	}
	return dbexec.NewRowsExecutor(queryExecutor)
}

func buildHTTPExecutor(cfg *config.Config) dbexec.SQLExecutor {
	return dbexec.NewHTTPExecutor(dbexec.HTTPExecutorConfig{
		URL:     cfg.Executor.URL,
		Headers: cfg.Executor.Headers,
		Timeout: cfg.Executor.Timeout,
	})
}

func buildService(cfg *config.Config, logger *logging.Logger, executor dbexec.SQLExecutor, metrics *observability.RowsMetrics) *tablerows.Service {
	return tablerows.NewService(executor,
		tablerows.WithLogger(logger.Logger),
		tablerows.WithMetrics(metrics),
		tablerows.WithMaxRetries(cfg.Executor.MaxRetries),
		tablerows.WithExportPageSize(cfg.Executor.ExportPageSize),
	)
}

// executorCheck probes a remote executor for the health endpoint.
func executorCheck(executor dbexec.SQLExecutor) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := executor.ExecuteSQL(ctx, "SELECT 1;")
		return err
	}
}
