// Package introspection describes Postgres relations for the row query planner.
// Table and Column are immutable snapshots supplied by callers; LoadTable
// builds them from pg_catalog and information_schema for the embedding service.
package introspection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pg-tablerows/internal/sqlutil"
)

// DefaultSchema is used when a table does not name its schema.
const DefaultSchema = "public"

// ErrTableNotFound is returned when the catalog has no relation with the requested name.
var ErrTableNotFound = errors.New("table not found")

// Column describes one column of a relation.
type Column struct {
	Name string
	// Format is the udt name (text, jsonb, int8, _int4, mood).
	Format string
	// DataType is the information_schema data type (text, ARRAY, USER-DEFINED).
	DataType     string
	IsPrimaryKey bool
	// Enums lists enum labels for enum columns and for arrays of enums.
	Enums []string
}

// Table describes the relation being queried.
type Table struct {
	// ID is the pg_class oid, or 0 when the caller does not know it.
	ID               int64
	Name             string
	Schema           string
	Columns          []Column
	EstimateRowCount int64
}

// SchemaName returns the table schema, defaulting to public.
func (t Table) SchemaName() string {
	if t.Schema == "" {
		return DefaultSchema
	}
	return t.Schema
}

// QualifiedName returns the escaped "schema"."name" of the table.
func QualifiedName(table Table) string {
	return sqlutil.QualifiedName(table.SchemaName(), table.Name)
}

// Queryer provides query access for catalog lookups.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const relationQuery = `
		SELECT c.oid::bigint, c.reltuples::bigint
		FROM pg_catalog.pg_class c
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1
		AND c.relname = $2
		AND c.relkind IN ('r', 'p', 'v', 'm', 'f')
	`

const columnsQuery = `
		SELECT
			c.column_name,
			c.udt_name,
			c.data_type,
			EXISTS (
				SELECT 1
				FROM information_schema.table_constraints tc
				JOIN information_schema.key_column_usage kcu
					ON kcu.constraint_name = tc.constraint_name
					AND kcu.table_schema = tc.table_schema
					AND kcu.table_name = tc.table_name
				WHERE tc.constraint_type = 'PRIMARY KEY'
				AND tc.table_schema = c.table_schema
				AND tc.table_name = c.table_name
				AND kcu.column_name = c.column_name
			) AS is_primary_key,
			COALESCE((
				SELECT array_agg(e.enumlabel::text ORDER BY e.enumsortorder)
				FROM pg_catalog.pg_type et
				JOIN pg_catalog.pg_namespace en ON en.oid = et.typnamespace
				JOIN pg_catalog.pg_enum e ON e.enumtypid = et.oid
				WHERE en.nspname = c.udt_schema
				AND et.typname = ltrim(c.udt_name, '_')
			), ARRAY[]::text[]) AS enums
		FROM information_schema.columns c
		WHERE c.table_schema = $1
		AND c.table_name = $2
		ORDER BY c.ordinal_position
	`

// LoadTable reads the descriptor of schema.name from the catalog.
func LoadTable(ctx context.Context, db Queryer, schema, name string) (*Table, error) {
	if schema == "" {
		schema = DefaultSchema
	}
	ctx, span := startSpan(ctx, "introspection.load_table",
		attribute.String("db.schema", schema),
		attribute.String("db.table", name),
	)
	defer span.End()

	table := &Table{Name: name, Schema: schema}
	err := db.QueryRowContext(ctx, relationQuery, schema, name).Scan(&table.ID, &table.EstimateRowCount)
	if errors.Is(err, sql.ErrNoRows) {
		recordSpanError(span, ErrTableNotFound)
		return nil, fmt.Errorf("%w: %s.%s", ErrTableNotFound, schema, name)
	}
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to read relation %s.%s: %w", schema, name, err)
	}

	columns, err := getColumns(ctx, db, schema, name)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to get columns for %s.%s: %w", schema, name, err)
	}
	table.Columns = columns
	span.SetAttributes(attribute.Int("db.columns", len(columns)))

	return table, nil
}

func getColumns(ctx context.Context, db Queryer, schema, name string) ([]Column, error) {
	rows, err := db.QueryContext(ctx, columnsQuery, schema, name)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var columns []Column
	for rows.Next() {
		var col Column
		var enums []string
		if err := rows.Scan(&col.Name, &col.Format, &col.DataType, &col.IsPrimaryKey, pq.Array(&enums)); err != nil {
			return nil, err
		}
		if len(enums) > 0 {
			col.Enums = enums
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return columns, nil
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("pg-tablerows/introspection")
	ctx, span := tracer.Start(ctx, name)
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
