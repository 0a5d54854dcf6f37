package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Operation kinds recorded by RowsMetrics.
const (
	KindRows     = "rows"
	KindCount    = "count"
	KindExport   = "export"
	KindMutation = "mutation"
)

// RowsMetrics holds metrics for row queries issued against the executor.
type RowsMetrics struct {
	queryDuration   metric.Float64Histogram
	queryCounter    metric.Int64Counter
	errorCounter    metric.Int64Counter
	activeQueries   metric.Int64UpDownCounter
	rowsReturned    metric.Int64Histogram
	retryCounter    metric.Int64Counter
	exportPages     metric.Int64Histogram
	exportTruncated metric.Int64Counter
	countResults    metric.Int64Counter
}

// InitRowsMetrics creates the row query instruments on the global meter provider.
func InitRowsMetrics() (*RowsMetrics, error) {
	meter := otel.Meter("pg-tablerows")

	queryDuration, err := meter.Float64Histogram(
		"tablerows.query.duration",
		metric.WithDescription("Duration of row queries in milliseconds, including retries"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query duration histogram: %w", err)
	}

	queryCounter, err := meter.Int64Counter(
		"tablerows.queries.total",
		metric.WithDescription("Total number of row queries"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"tablerows.errors.total",
		metric.WithDescription("Total number of failed row queries"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}

	activeQueries, err := meter.Int64UpDownCounter(
		"tablerows.queries.active",
		metric.WithDescription("Number of row queries in flight"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active queries counter: %w", err)
	}

	rowsReturned, err := meter.Int64Histogram(
		"tablerows.rows.returned",
		metric.WithDescription("Number of rows returned per query"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rows returned histogram: %w", err)
	}

	retryCounter, err := meter.Int64Counter(
		"tablerows.retries.total",
		metric.WithDescription("Total number of retries after rate limited responses"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retry counter: %w", err)
	}

	exportPages, err := meter.Int64Histogram(
		"tablerows.export.pages",
		metric.WithDescription("Number of pages fetched per export"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create export pages histogram: %w", err)
	}

	exportTruncated, err := meter.Int64Counter(
		"tablerows.export.truncated.total",
		metric.WithDescription("Total number of exports stopped early by an executor error"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create export truncated counter: %w", err)
	}

	countResults, err := meter.Int64Counter(
		"tablerows.count.results.total",
		metric.WithDescription("Total number of row counts by exactness"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create count results counter: %w", err)
	}

	return &RowsMetrics{
		queryDuration:   queryDuration,
		queryCounter:    queryCounter,
		errorCounter:    errorCounter,
		activeQueries:   activeQueries,
		rowsReturned:    rowsReturned,
		retryCounter:    retryCounter,
		exportPages:     exportPages,
		exportTruncated: exportTruncated,
		countResults:    countResults,
	}, nil
}

// Methods are safe to call on a nil *RowsMetrics.

// RecordQuery records one executed query with its duration and outcome.
func (m *RowsMetrics) RecordQuery(ctx context.Context, kind string, duration time.Duration, rows int, failed bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("has_errors", failed),
	)
	m.queryDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	m.queryCounter.Add(ctx, 1, attrs)
	if failed {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
		return
	}
	m.rowsReturned.Record(ctx, int64(rows), metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordRetry records a retry caused by a rate limited response.
func (m *RowsMetrics) RecordRetry(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.retryCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordExport records the pages fetched by an export and whether it stopped early.
func (m *RowsMetrics) RecordExport(ctx context.Context, pages int, truncated bool) {
	if m == nil {
		return
	}
	m.exportPages.Record(ctx, int64(pages), metric.WithAttributes(attribute.Bool("truncated", truncated)))
	if truncated {
		m.exportTruncated.Add(ctx, 1)
	}
}

// RecordCount records whether a count result was estimated.
func (m *RowsMetrics) RecordCount(ctx context.Context, estimated bool) {
	if m == nil {
		return
	}
	m.countResults.Add(ctx, 1, metric.WithAttributes(attribute.Bool("is_estimate", estimated)))
}

// IncrementActiveQueries increments the in-flight query counter.
func (m *RowsMetrics) IncrementActiveQueries(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeQueries.Add(ctx, 1)
}

// DecrementActiveQueries decrements the in-flight query counter.
func (m *RowsMetrics) DecrementActiveQueries(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeQueries.Add(ctx, -1)
}

// InitMetrics initializes all custom metrics.
func InitMetrics(logger *slog.Logger) (*RowsMetrics, *AccessMetrics, error) {
	rows, err := InitRowsMetrics()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize row metrics: %w", err)
	}
	access, err := InitAccessMetrics()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize access metrics: %w", err)
	}

	logger.Info("custom row metrics initialized")
	return rows, access, nil
}
