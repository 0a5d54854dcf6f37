package planner

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"pg-tablerows/internal/introspection"
	"pg-tablerows/internal/sqltype"
	"pg-tablerows/internal/sqlutil"
)

// TableRowsQueryArgs describes one page of rows.
type TableRowsQueryArgs struct {
	Table   *introspection.Table
	Filters []Filter
	Sorts   []Sort
	// Page is 1-indexed; zero means the first page.
	Page int
	// Limit is the page size; zero means DefaultPageSize.
	Limit int
}

// ShouldTruncateColumn reports whether the column is selected through the
// text truncation expression.
func ShouldTruncateColumn(column introspection.Column) bool {
	return sqltype.ShouldTruncate(column.Format, column.DataType)
}

// IsEnumArrayColumn reports whether the column is an array of an enum type.
func IsEnumArrayColumn(column introspection.Column) bool {
	return sqltype.IsArray(column.Format, column.DataType) && len(column.Enums) > 0
}

// BuildTableRowsQuery returns the SELECT statement for one page of rows.
// It returns an empty string when there is no table or the table has no columns.
func BuildTableRowsQuery(args TableRowsQueryArgs) string {
	if args.Table == nil || len(args.Table.Columns) == 0 {
		return ""
	}
	table := *args.Table

	builder := sq.Select(selectColumns(table)...).
		From(introspection.QualifiedName(table)).
		PlaceholderFormat(sq.Question)

	for _, pred := range buildFilterPredicates(table, args.Filters) {
		builder = builder.Where(pred)
	}

	sorts := args.Sorts
	if len(sorts) == 0 && table.EstimateRowCount <= LargeTableThreshold {
		sorts = PrimaryKeySorts(table)
	}
	builder = builder.OrderBy(orderByClauses(table, sorts)...)

	offset, limit := pageWindow(args.Page, args.Limit)
	builder = builder.Limit(limit).Offset(offset)

	query, _, err := builder.ToSql()
	if err != nil {
		return ""
	}
	return query + ";"
}

func selectColumns(table introspection.Table) []string {
	columns := make([]string, 0, len(table.Columns))
	for _, col := range table.Columns {
		columns = append(columns, selectExpression(col))
	}
	return columns
}

// selectExpression casts enum arrays to text[] so clients receive labels
// instead of the internal array representation. They are exempt from
// truncation, which would otherwise flatten them to text.
func selectExpression(col introspection.Column) string {
	name := sqlutil.QuoteIdentifier(col.Name)
	switch {
	case IsEnumArrayColumn(col):
		return fmt.Sprintf("%s::text[] AS %s", name, name)
	case ShouldTruncateColumn(col):
		return fmt.Sprintf(
			"CASE WHEN octet_length(%[1]s::text) > %[2]d THEN left(%[1]s::text, %[2]d) || %[3]s ELSE %[1]s::text END AS %[1]s",
			name, MaxCharacters, sqlutil.QuoteLiteral(ellipsis),
		)
	default:
		return name
	}
}

func orderByClauses(table introspection.Table, sorts []Sort) []string {
	clauses := make([]string, 0, len(sorts))
	for _, sort := range sorts {
		if sort.Column == "" {
			continue
		}
		tableName := sort.Table
		if tableName == "" {
			tableName = table.Name
		}
		direction := "DESC"
		if sort.Ascending {
			direction = "ASC"
		}
		nulls := "NULLS LAST"
		if sort.NullsFirst {
			nulls = "NULLS FIRST"
		}
		clauses = append(clauses, fmt.Sprintf("%s %s %s", qualifiedColumn(tableName, sort.Column), direction, nulls))
	}
	return clauses
}

// pageWindow converts a 1-indexed page into the row range [from, to] and
// returns it as OFFSET and LIMIT values.
func pageWindow(page, limit int) (offset, count uint64) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	from := (page - 1) * limit
	to := from + limit - 1
	return uint64(from), uint64(to - from + 1)
}
