// Package dbexec executes generated SQL text and returns rows as maps.
// It supports direct execution over database/sql, role impersonation using
// Postgres SET ROLE, and remote execution through a pg-meta style HTTP endpoint.
package dbexec

import (
	"context"
	"database/sql"
	"fmt"
)

// Row is one result row keyed by column name.
type Row = map[string]any

// SQLExecutor runs a SQL statement and returns its rows.
type SQLExecutor interface {
	ExecuteSQL(ctx context.Context, query string) ([]Row, error)
}

// Rows abstracts sql.Rows to allow wrapped cleanup behavior.
type Rows interface {
	Next() bool
	Columns() ([]string, error)
	Scan(dest ...any) error
	Err() error
	Close() error
}

// QueryExecutor abstracts SQL execution so callers can swap in role-aware behavior.
type QueryExecutor interface {
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// StandardExecutor executes queries directly against a database handle.
type StandardExecutor struct {
	db *sql.DB
}

// NewStandardExecutor creates an executor that runs queries directly against the database.
func NewStandardExecutor(db *sql.DB) *StandardExecutor {
	return &StandardExecutor{db: db}
}

func (e *StandardExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	return e.db.QueryContext(ctx, query, args...)
}

func (e *StandardExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	return e.db.ExecContext(ctx, query, args...)
}

// RowsExecutor adapts a QueryExecutor to SQLExecutor.
type RowsExecutor struct {
	queryer QueryExecutor
}

// NewRowsExecutor wraps a QueryExecutor. The statement is sent without
// arguments, so lib/pq uses the simple query protocol and multi-statement
// text such as the count estimate returns the rows of its final SELECT.
func NewRowsExecutor(queryer QueryExecutor) *RowsExecutor {
	return &RowsExecutor{queryer: queryer}
}

// ExecuteSQL runs query and scans every row into a map. Byte slices are
// returned as strings.
func (e *RowsExecutor) ExecuteSQL(ctx context.Context, query string) ([]Row, error) {
	rows, err := e.queryer.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	result := []Row{}
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(Row, len(columns))
		for i, name := range columns {
			if b, ok := values[i].([]byte); ok {
				row[name] = string(b)
				continue
			}
			row[name] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
