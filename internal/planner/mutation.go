package planner

import (
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"

	"pg-tablerows/internal/introspection"
	"pg-tablerows/internal/sqlutil"
)

// BuildDeleteRowsQuery builds SQL deleting the given rows by primary key.
// Each row must carry a value for every primary key column.
func BuildDeleteRowsQuery(table introspection.Table, rows []map[string]any) (string, error) {
	if table.Name == "" {
		return "", ErrNoTable
	}
	pkCols := introspection.PrimaryKeyColumns(table)
	if len(pkCols) == 0 {
		return "", fmt.Errorf("%w: table %s", ErrNoPrimaryKey, table.Name)
	}
	if len(rows) == 0 {
		return "", ErrNoRowsSelected
	}

	matches := make(sq.Or, 0, len(rows))
	for _, row := range rows {
		match, err := primaryKeyMatch(table, pkCols, row)
		if err != nil {
			return "", err
		}
		matches = append(matches, match)
	}

	query, _, err := sq.Delete(introspection.QualifiedName(table)).
		Where(matches).
		PlaceholderFormat(sq.Question).
		ToSql()
	if err != nil {
		return "", err
	}
	return query + ";", nil
}

// BuildDeleteAllQuery builds SQL deleting every row that matches the filters.
// Without usable filters every row in the table is deleted.
func BuildDeleteAllQuery(table introspection.Table, filters []Filter) (string, error) {
	if table.Name == "" {
		return "", ErrNoTable
	}
	builder := sq.Delete(introspection.QualifiedName(table)).PlaceholderFormat(sq.Question)
	for _, pred := range buildFilterPredicates(table, filters) {
		builder = builder.Where(pred)
	}
	query, _, err := builder.ToSql()
	if err != nil {
		return "", err
	}
	return query + ";", nil
}

// BuildUpdateRowQuery builds SQL updating a single row by primary key and
// returning the updated row. Columns are set in name order.
func BuildUpdateRowQuery(table introspection.Table, pkValues map[string]any, set map[string]any) (string, error) {
	if table.Name == "" {
		return "", ErrNoTable
	}
	if len(set) == 0 {
		return "", ErrEmptyUpdate
	}
	pkCols := introspection.PrimaryKeyColumns(table)
	if len(pkCols) == 0 {
		return "", fmt.Errorf("%w: table %s", ErrNoPrimaryKey, table.Name)
	}
	match, err := primaryKeyMatch(table, pkCols, pkValues)
	if err != nil {
		return "", err
	}

	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)

	update := sq.Update(introspection.QualifiedName(table)).PlaceholderFormat(sq.Question)
	for _, name := range names {
		update = update.Set(sqlutil.QuoteIdentifier(name), sq.Expr(sqlutil.Literal(set[name])))
	}
	query, _, err := update.Where(match).Suffix("RETURNING *").ToSql()
	if err != nil {
		return "", err
	}
	return query + ";", nil
}

// BuildTruncateQuery builds SQL removing every row of the table.
func BuildTruncateQuery(table introspection.Table, cascade bool) (string, error) {
	if table.Name == "" {
		return "", ErrNoTable
	}
	query := "TRUNCATE " + introspection.QualifiedName(table)
	if cascade {
		query += " CASCADE"
	}
	return query + ";", nil
}

func primaryKeyMatch(table introspection.Table, pkCols []introspection.Column, values map[string]any) (sq.And, error) {
	match := make(sq.And, 0, len(pkCols))
	for _, col := range pkCols {
		val, ok := values[col.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrMissingPrimaryKeyValue, table.Name, col.Name)
		}
		name := sqlutil.QuoteIdentifier(col.Name)
		if val == nil {
			match = append(match, sq.Expr(name+" IS NULL"))
			continue
		}
		match = append(match, sq.Expr(name+" = "+sqlutil.Literal(val)))
	}
	return match, nil
}
