// Package tablerows runs the generated row queries through an executor:
// single pages, counts, full exports and mutations, each retried on rate
// limits, traced, and recorded in metrics.
package tablerows

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pg-tablerows/internal/dbexec"
	"pg-tablerows/internal/introspection"
	"pg-tablerows/internal/observability"
	"pg-tablerows/internal/planner"
	"pg-tablerows/internal/retry"
)

// NoResultsField marks placeholder rows returned for an impersonated role
// that cannot see any row. Such rows are dropped from exports.
const NoResultsField = "ROLE_IMPERSONATION_NO_RESULTS"

// Service executes row queries.
type Service struct {
	executor       dbexec.SQLExecutor
	logger         *slog.Logger
	metrics        *observability.RowsMetrics
	maxRetries     int
	exportPageSize int
	sleep          retry.SleepFunc
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for retries and export failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records query metrics.
func WithMetrics(metrics *observability.RowsMetrics) Option {
	return func(s *Service) {
		s.metrics = metrics
	}
}

// WithMaxRetries sets how many times a rate limited call is retried.
func WithMaxRetries(n int) Option {
	return func(s *Service) {
		s.maxRetries = max(n, 0)
	}
}

// WithExportPageSize sets the page size used by FetchAllRows.
func WithExportPageSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.exportPageSize = n
		}
	}
}

// WithSleep replaces the backoff sleep.
func WithSleep(sleep retry.SleepFunc) Option {
	return func(s *Service) {
		s.sleep = sleep
	}
}

// NewService creates a Service over the executor.
func NewService(executor dbexec.SQLExecutor, opts ...Option) *Service {
	s := &Service{
		executor:       executor,
		logger:         slog.Default(),
		maxRetries:     retry.DefaultMaxRetries,
		exportPageSize: planner.ExportPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CountResult is the outcome of a count query.
type CountResult struct {
	Count      int64 `json:"count"`
	IsEstimate bool  `json:"is_estimate"`
}

// FetchAllArgs selects the rows to export.
type FetchAllArgs struct {
	Table   *introspection.Table
	Filters []planner.Filter
	Sorts   []planner.Sort
}

// FetchAllResult holds the exported rows. Truncated is set when an executor
// error stopped the export early; Rows then holds the pages read before it.
type FetchAllResult struct {
	Rows      []dbexec.Row
	Pages     int
	Truncated bool
	Err       error
}

// FetchRows returns one page of rows. An empty query, produced for a missing
// table or a table without columns, yields no rows.
func (s *Service) FetchRows(ctx context.Context, args planner.TableRowsQueryArgs) ([]dbexec.Row, error) {
	query := planner.BuildTableRowsQuery(args)
	if query == "" {
		return []dbexec.Row{}, nil
	}
	return s.execute(ctx, observability.KindRows, tableName(args.Table), query)
}

// CountRows returns the exact or estimated number of rows matching the filters.
func (s *Service) CountRows(ctx context.Context, args planner.CountQueryArgs) (CountResult, error) {
	query := planner.BuildCountQuery(args)
	if query == "" {
		return CountResult{}, nil
	}
	rows, err := s.execute(ctx, observability.KindCount, tableName(args.Table), query)
	if err != nil {
		return CountResult{}, err
	}
	if len(rows) == 0 {
		return CountResult{}, fmt.Errorf("count query returned no rows")
	}
	result, err := parseCountRow(rows[0])
	if err != nil {
		return CountResult{}, err
	}
	s.metrics.RecordCount(ctx, result.IsEstimate)
	return result, nil
}

// FetchAllRows reads every matching row page by page. Pages are requested
// strictly in sequence and the loop ends on the first short page. Without
// caller sorts the rows are ordered by primary key so pages do not overlap.
func (s *Service) FetchAllRows(ctx context.Context, args FetchAllArgs) FetchAllResult {
	result := FetchAllResult{Rows: []dbexec.Row{}}
	if args.Table == nil || len(args.Table.Columns) == 0 {
		return result
	}

	sorts := args.Sorts
	if len(sorts) == 0 {
		sorts = planner.PrimaryKeySorts(*args.Table)
	}

	ctx, span := startSpan(ctx, "tablerows.fetch_all",
		attribute.String("db.table", args.Table.Name),
		attribute.Int("tablerows.page_size", s.exportPageSize),
	)
	defer span.End()

	var rows []dbexec.Row
	for page := 1; ; page++ {
		query := planner.BuildTableRowsQuery(planner.TableRowsQueryArgs{
			Table:   args.Table,
			Filters: args.Filters,
			Sorts:   sorts,
			Page:    page,
			Limit:   s.exportPageSize,
		})
		batch, err := s.execute(ctx, observability.KindExport, args.Table.Name, query)
		if err != nil {
			result.Truncated = true
			result.Err = err
			s.logger.Warn("export stopped early",
				slog.String("table", args.Table.Name),
				slog.Int("page", page),
				slog.Int("rows", len(rows)),
				slog.String("error", err.Error()),
			)
			recordSpanError(span, err)
			break
		}
		result.Pages = page
		rows = append(rows, batch...)
		if len(batch) < s.exportPageSize {
			break
		}
	}

	result.Rows = visibleRows(rows)
	span.SetAttributes(
		attribute.Int("tablerows.pages", result.Pages),
		attribute.Int("tablerows.rows", len(result.Rows)),
		attribute.Bool("tablerows.truncated", result.Truncated),
	)
	s.metrics.RecordExport(ctx, result.Pages, result.Truncated)
	return result
}

// ExecuteMutation runs a statement produced by the mutation builders.
func (s *Service) ExecuteMutation(ctx context.Context, table, query string) ([]dbexec.Row, error) {
	if query == "" {
		return nil, fmt.Errorf("empty statement")
	}
	return s.execute(ctx, observability.KindMutation, table, query)
}

func (s *Service) execute(ctx context.Context, kind, table, query string) ([]dbexec.Row, error) {
	ctx, span := startSpan(ctx, "tablerows."+kind,
		attribute.String("db.system", "postgresql"),
		attribute.String("db.table", table),
		attribute.String("tablerows.kind", kind),
	)
	defer span.End()

	s.metrics.IncrementActiveQueries(ctx)
	defer s.metrics.DecrementActiveQueries(ctx)

	opts := []retry.Option{
		retry.WithMaxRetries(s.maxRetries),
		retry.WithLogger(s.logger),
		retry.WithOnRetry(func(attempt int, delay time.Duration, err error) {
			s.metrics.RecordRetry(ctx, kind)
			span.AddEvent("retry", trace.WithAttributes(
				attribute.Int("attempt", attempt+1),
				attribute.Int64("delay_ms", delay.Milliseconds()),
			))
		}),
	}
	if s.sleep != nil {
		opts = append(opts, retry.WithSleep(s.sleep))
	}

	start := time.Now()
	rows, err := retry.ExecuteWithRetry(ctx, func(ctx context.Context) ([]dbexec.Row, error) {
		return s.executor.ExecuteSQL(ctx, query)
	}, opts...)
	s.metrics.RecordQuery(ctx, kind, time.Since(start), len(rows), err != nil)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("tablerows.rows", len(rows)))
	return rows, nil
}

func visibleRows(rows []dbexec.Row) []dbexec.Row {
	visible := make([]dbexec.Row, 0, len(rows))
	for _, row := range rows {
		if isNoResultsRow(row) {
			continue
		}
		visible = append(visible, row)
	}
	return visible
}

func isNoResultsRow(row dbexec.Row) bool {
	v, ok := row[NoResultsField]
	if !ok {
		return false
	}
	n, err := toInt64(v)
	return err == nil && n == 1
}

func parseCountRow(row dbexec.Row) (CountResult, error) {
	count, err := toInt64(row["count"])
	if err != nil {
		return CountResult{}, fmt.Errorf("invalid count value: %w", err)
	}
	estimate, err := toBool(row["is_estimate"])
	if err != nil {
		return CountResult{}, fmt.Errorf("invalid is_estimate value: %w", err)
	}
	return CountResult{Count: count, IsEstimate: estimate}, nil
}

func toInt64(v any) (int64, error) {
	switch val := v.(type) {
	case int64:
		return val, nil
	case int:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case float64:
		return int64(val), nil
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n, nil
		}
		f, err := val.Float64()
		return int64(f), err
	case string:
		return strconv.ParseInt(strings.TrimSpace(val), 10, 64)
	case []byte:
		return strconv.ParseInt(strings.TrimSpace(string(val)), 10, 64)
	case nil:
		return 0, fmt.Errorf("missing value")
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func toBool(v any) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(val))
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected type %T", v)
	}
}

func tableName(table *introspection.Table) string {
	if table == nil {
		return ""
	}
	return table.Name
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("pg-tablerows/tablerows").Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
