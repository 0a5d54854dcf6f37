package planner

import (
	"math"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"pg-tablerows/internal/introspection"
	"pg-tablerows/internal/sqltype"
	"pg-tablerows/internal/sqlutil"
)

// maxSafeInteger is the largest integer a float64 represents exactly.
const maxSafeInteger = 1<<53 - 1

// FilterValue is a filter value after coercion against its column type.
type FilterValue struct {
	Raw      string
	Number   float64
	IsNumber bool
}

// SQL renders the value as a bare number or a quoted string literal.
func (v FilterValue) SQL() string {
	if v.IsNumber {
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	}
	return sqlutil.QuoteLiteral(v.Raw)
}

// Value returns the number when coercion succeeded, otherwise the raw string.
func (v FilterValue) Value() any {
	if v.IsNumber {
		return v.Number
	}
	return v.Raw
}

// FormatFilterValue coerces the filter value to a number when the filtered
// column is numeric. Values that do not parse, are not finite, or exceed the
// exact float64 integer range keep their original text so large integers
// are not rounded. Unknown columns are treated as non-numeric.
func FormatFilterValue(table introspection.Table, filter Filter) FilterValue {
	return formatValue(table, filter.Column, filter.Value)
}

func formatValue(table introspection.Table, column, raw string) FilterValue {
	col, ok := introspection.FindColumn(table, column)
	if !ok || !sqltype.IsNumericFormat(col.Format) {
		return FilterValue{Raw: raw}
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) || math.Abs(n) > maxSafeInteger {
		return FilterValue{Raw: raw}
	}
	return FilterValue{Raw: raw, Number: n, IsNumber: true}
}

type operatorKind int

const (
	comparisonOperator operatorKind = iota
	patternOperator
	inOperator
	isOperator
)

type operator struct {
	sql  string
	kind operatorKind
}

var operators = map[string]operator{
	"=":         {"=", comparisonOperator},
	"eq":        {"=", comparisonOperator},
	"<>":        {"<>", comparisonOperator},
	"!=":        {"<>", comparisonOperator},
	"neq":       {"<>", comparisonOperator},
	">":         {">", comparisonOperator},
	"gt":        {">", comparisonOperator},
	"<":         {"<", comparisonOperator},
	"lt":        {"<", comparisonOperator},
	">=":        {">=", comparisonOperator},
	"gte":       {">=", comparisonOperator},
	"<=":        {"<=", comparisonOperator},
	"lte":       {"<=", comparisonOperator},
	"~~":        {"~~", patternOperator},
	"like":      {"~~", patternOperator},
	"~~*":       {"~~*", patternOperator},
	"ilike":     {"~~*", patternOperator},
	"!~~":       {"!~~", patternOperator},
	"not like":  {"!~~", patternOperator},
	"!~~*":      {"!~~*", patternOperator},
	"not ilike": {"!~~*", patternOperator},
	"in":        {"IN", inOperator},
	"is":        {"IS", isOperator},
}

var isOperands = map[string]string{
	"null":     "NULL",
	"not null": "NOT NULL",
	"true":     "TRUE",
	"false":    "FALSE",
}

// buildFilterPredicates renders one predicate per usable filter. Filters with
// an empty value, an unknown operator, or an unusable operand are skipped.
func buildFilterPredicates(table introspection.Table, filters []Filter) []sq.Sqlizer {
	var preds []sq.Sqlizer
	for _, filter := range filters {
		if pred, ok := buildFilterPredicate(table, filter); ok {
			preds = append(preds, sq.Expr(pred))
		}
	}
	return preds
}

func buildFilterPredicate(table introspection.Table, filter Filter) (string, bool) {
	if filter.Value == "" || filter.Column == "" {
		return "", false
	}
	op, ok := operators[strings.ToLower(strings.TrimSpace(filter.Operator))]
	if !ok {
		return "", false
	}
	column := qualifiedColumn(filter.Table, filter.Column)

	switch op.kind {
	case patternOperator:
		return column + "::text " + op.sql + " " + sqlutil.QuoteLiteral(filter.Value), true
	case inOperator:
		values := splitInList(filter.Value)
		if len(values) == 0 {
			return "", false
		}
		rendered := make([]string, len(values))
		for i, v := range values {
			rendered[i] = formatValue(table, filter.Column, v).SQL()
		}
		return column + " IN (" + strings.Join(rendered, ", ") + ")", true
	case isOperator:
		operand, ok := isOperands[strings.ToLower(strings.TrimSpace(filter.Value))]
		if !ok {
			return "", false
		}
		return column + " IS " + operand, true
	default:
		return column + " " + op.sql + " " + FormatFilterValue(table, filter).SQL(), true
	}
}

// splitInList accepts "a,b,c" and "(a, b, c)".
func splitInList(value string) []string {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "(")
	value = strings.TrimSuffix(value, ")")

	var values []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			values = append(values, part)
		}
	}
	return values
}
