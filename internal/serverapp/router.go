package serverapp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"pg-tablerows/internal/config"
	"pg-tablerows/internal/dbexec"
	"pg-tablerows/internal/logging"
	"pg-tablerows/internal/middleware"
	"pg-tablerows/internal/observability"
	"pg-tablerows/internal/tablerows"
)

// Routes served by the application.
const (
	routeRows     = "/v1/rows"
	routeCount    = "/v1/rows/count"
	routeExport   = "/v1/rows/export"
	routeDelete   = "/v1/rows/delete"
	routeUpdate   = "/v1/rows/update"
	routeTruncate = "/v1/rows/truncate"
	routeSQL      = "/v1/rows/sql"
	routeHealth   = "/health"
	routeMetrics  = "/metrics"
)

// routerDeps carries what the router needs from Init.
type routerDeps struct {
	executor    dbexec.SQLExecutor
	service     *tablerows.Service
	loadTable   tableLoader
	check       func(context.Context) error
	maxPageSize int
}

func buildRouter(cfg *config.Config, logger *logging.Logger, deps routerDeps, meterProvider *observability.MeterProvider) *http.ServeMux {
	api := &rowsAPI{
		service:     deps.service,
		loadTable:   deps.loadTable,
		maxPageSize: deps.maxPageSize,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+routeRows, api.handleRows)
	mux.HandleFunc("POST "+routeCount, api.handleCount)
	mux.HandleFunc("POST "+routeExport, api.handleExport)
	mux.HandleFunc("POST "+routeDelete, api.handleDelete)
	mux.HandleFunc("POST "+routeUpdate, api.handleUpdate)
	mux.HandleFunc("POST "+routeTruncate, api.handleTruncate)
	mux.HandleFunc("POST "+routeSQL, api.handleSQL)
	mux.HandleFunc("GET "+routeHealth, healthHandler(deps.check, cfg.Server.HealthCheckTimeout))

	if cfg.Observability.MetricsEnabled && meterProvider != nil {
		mux.Handle("GET "+routeMetrics, promhttp.Handler())
		logger.Info("metrics endpoint enabled", slog.String("path", routeMetrics))
	}

	return mux
}

// buildAPIHandler adds request logging and role selection. Logging runs
// first so rejected roles are logged with their request id.
func buildAPIHandler(cfg *config.Config, logger *logging.Logger, handler http.Handler, allowedRoles []string, accessMetrics *observability.AccessMetrics) http.Handler {
	if cfg.Server.Role.Enabled {
		handler = middleware.RoleMiddleware(middleware.RoleConfig{
			Header:  cfg.Server.Role.Header,
			Allowed: allowedRoles,
			Metrics: accessMetrics,
		})(handler)
		logger.Info("role impersonation middleware enabled", slog.String("header", cfg.Server.Role.Header))
	}
	return middleware.LoggingMiddleware(logger)(handler)
}

func wrapHTTPHandler(cfg *config.Config, logger *logging.Logger, handler http.Handler, accessMetrics *observability.AccessMetrics) http.Handler {
	if cfg.Observability.MetricsEnabled || cfg.Observability.TracingEnabled {
		handler = otelhttp.NewHandler(handler, "http.server",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return httpRootSpanName(r)
			}),
		)
		logger.Info("HTTP instrumentation enabled")
	}

	if cfg.Server.CORSEnabled {
		handler = middleware.CORSMiddleware(middleware.CORSConfig{
			Enabled:        cfg.Server.CORSEnabled,
			AllowedOrigins: cfg.Server.CORSAllowedOrigins,
			AllowedHeaders: corsHeaders(cfg),
			MaxAge:         cfg.Server.CORSMaxAge,
		})(handler)
	}

	if cfg.Server.RateLimitEnabled {
		handler = middleware.RateLimitMiddleware(middleware.RateLimitConfig{
			Enabled: cfg.Server.RateLimitEnabled,
			RPS:     cfg.Server.RateLimitRPS,
			Burst:   cfg.Server.RateLimitBurst,
			Metrics: accessMetrics,
		})(handler)
	}

	return handler
}

// corsHeaders allows the role header in browser requests when impersonation is on.
func corsHeaders(cfg *config.Config) []string {
	headers := cfg.Server.CORSAllowedHeaders
	if !cfg.Server.Role.Enabled || cfg.Server.Role.Header == "" {
		return headers
	}
	for _, h := range headers {
		if strings.EqualFold(h, cfg.Server.Role.Header) {
			return headers
		}
	}
	return append(append([]string(nil), headers...), cfg.Server.Role.Header)
}

func httpRootSpanName(r *http.Request) string {
	if r == nil {
		return "HTTP /*"
	}
	method := strings.TrimSpace(r.Method)
	if method == "" {
		method = "HTTP"
	}
	return method + " " + normalizeHTTPSpanRoute(r.URL.Path)
}

func normalizeHTTPSpanRoute(rawPath string) string {
	switch rawPath {
	case routeRows, routeCount, routeExport, routeDelete, routeUpdate, routeTruncate, routeSQL, routeHealth, routeMetrics:
		return rawPath
	default:
		return "/*"
	}
}

func buildServer(cfg *config.Config, handler http.Handler, serverAddr string) *http.Server {
	return &http.Server{
		Addr:         serverAddr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func startServer(cfg *config.Config, logger *logging.Logger, srv *http.Server) chan error {
	serverErrors := make(chan error, 1)
	go func() {
		logAttrs := []any{
			slog.String("address", srv.Addr),
			slog.String("executor", cfg.Executor.Mode),
			slog.String("rows_endpoint", routeRows),
			slog.String("health_endpoint", routeHealth),
			slog.Int("max_page_size", cfg.Server.MaxPageSize),
			slog.Bool("role_impersonation", cfg.Server.Role.Enabled),
		}
		if cfg.Observability.MetricsEnabled {
			logAttrs = append(logAttrs, slog.String("metrics_endpoint", routeMetrics))
		}
		if cfg.Server.RateLimitEnabled {
			logAttrs = append(logAttrs,
				slog.Float64("rate_limit_rps", cfg.Server.RateLimitRPS),
				slog.Int("rate_limit_burst", cfg.Server.RateLimitBurst),
			)
		}
		logger.Info("server starting", logAttrs...)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("server failed: %w", err)
		}
	}()
	return serverErrors
}

// healthHandler reports whether the executor's backend answers.
func healthHandler(check func(context.Context) error, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())

		ctx := r.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		if check != nil {
			if err := check(ctx); err != nil {
				reqLogger.Error("health check failed",
					slog.String("error", err.Error()),
					slog.String("check", "database"),
				)
				// Generic body to avoid leaking connection details.
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "failed"})
				return
			}
		}

		reqLogger.Debug("health check passed")
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "database": "ok"})
	}
}
