// Package planner builds the SQL text used to browse a single Postgres table:
// the paged row select, the companion row count, and the delete, update and
// truncate statements issued from the same grid.
//
// All builders return one self-contained statement with every value inlined
// as an escaped literal. The count estimate embeds the filtered select as a
// string argument to EXPLAIN, and the HTTP executor only accepts SQL text, so
// bind parameters are never produced.
package planner

import (
	"errors"

	"pg-tablerows/internal/introspection"
	"pg-tablerows/internal/sqlutil"
)

const (
	// MaxCharacters is the octet length above which a truncated column is cut.
	MaxCharacters = 10240
	// LargeTableThreshold is the row estimate above which no default order is
	// applied and counts switch to planner estimates.
	LargeTableThreshold = 50000
	// DefaultPageSize is the page size used when the caller gives no limit.
	DefaultPageSize = 100
	// ExportPageSize is the page size used when fetching every row.
	ExportPageSize = 500

	ellipsis = "..."
)

var (
	// ErrNoPrimaryKey is returned when a statement needs to address rows by primary key.
	ErrNoPrimaryKey = errors.New("no primary key")
	// ErrMissingPrimaryKeyValue is returned when a row does not carry every primary key column.
	ErrMissingPrimaryKeyValue = errors.New("missing primary key value")
	// ErrNoTable is returned by mutation builders called without a table name.
	ErrNoTable = errors.New("no table")
	// ErrEmptyUpdate is returned when an update has nothing to set.
	ErrEmptyUpdate = errors.New("update set cannot be empty")
	// ErrNoRowsSelected is returned when a delete by primary key receives no rows.
	ErrNoRowsSelected = errors.New("no rows selected")
)

// Filter is one predicate from the grid. Value is the raw user input.
type Filter struct {
	Column   string `json:"column"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
	// Table qualifies the column when set.
	Table string `json:"table,omitempty"`
}

// Sort is one ORDER BY term. Table defaults to the queried table.
type Sort struct {
	Table      string `json:"table,omitempty"`
	Column     string `json:"column"`
	Ascending  bool   `json:"ascending"`
	NullsFirst bool   `json:"nullsFirst"`
}

// PrimaryKeySorts returns ascending, nulls-first sorts over the primary key
// columns, or over the first column when the table has no primary key.
func PrimaryKeySorts(table introspection.Table) []Sort {
	pkCols := introspection.PrimaryKeyColumns(table)
	if len(pkCols) == 0 {
		if len(table.Columns) == 0 {
			return nil
		}
		pkCols = table.Columns[:1]
	}
	sorts := make([]Sort, 0, len(pkCols))
	for _, col := range pkCols {
		sorts = append(sorts, Sort{
			Table:      table.Name,
			Column:     col.Name,
			Ascending:  true,
			NullsFirst: true,
		})
	}
	return sorts
}

func qualifiedColumn(table, column string) string {
	if table == "" {
		return sqlutil.QuoteIdentifier(column)
	}
	return sqlutil.QuoteIdentifier(table) + "." + sqlutil.QuoteIdentifier(column)
}
