package planner

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"pg-tablerows/internal/introspection"
	"pg-tablerows/internal/sqlutil"
)

// CountQueryArgs describes a row count request.
type CountQueryArgs struct {
	Table   *introspection.Table
	Filters []Filter
	// Exact forces count(*) regardless of table size.
	Exact bool
}

// countEstimateFunction returns the planner row estimate for a query.
const countEstimateFunction = `CREATE OR REPLACE FUNCTION pg_temp.count_estimate(query text) RETURNS bigint LANGUAGE plpgsql AS $$ DECLARE plan jsonb; BEGIN EXECUTE 'EXPLAIN (FORMAT JSON) ' || query INTO plan; RETURN (plan->0->'Plan'->>'Plan Rows')::bigint; END; $$;`

// BuildCountQuery returns a statement yielding one row with a bigint count
// and a boolean is_estimate.
//
// In estimate mode the catalog reltuples decides the strategy: unknown
// statistics fall back to the planner estimate of the filtered select,
// tables above LargeTableThreshold use the planner estimate when filtered
// and reltuples otherwise, and smaller tables are counted exactly.
func BuildCountQuery(args CountQueryArgs) string {
	if args.Table == nil || args.Table.Name == "" {
		return ""
	}
	table := *args.Table
	preds := buildFilterPredicates(table, args.Filters)

	if args.Exact {
		query, err := filteredSelect(table, preds, "count(*) AS count", "false AS is_estimate")
		if err != nil {
			return ""
		}
		return query + ";"
	}

	selectAll, err := filteredSelect(table, preds, "*")
	if err != nil {
		return ""
	}
	exactCount, err := filteredSelect(table, preds, "count(*)")
	if err != nil {
		return ""
	}
	plannerEstimate := fmt.Sprintf("pg_temp.count_estimate(%s)", sqlutil.QuoteLiteral(selectAll))
	largeTableCount := "estimate::bigint"
	if len(preds) > 0 {
		largeTableCount = plannerEstimate
	}

	var b strings.Builder
	b.WriteString(countEstimateFunction)
	b.WriteString("\n")
	fmt.Fprintf(&b, "WITH approximation AS (SELECT reltuples AS estimate FROM pg_class WHERE oid = %s)\n", relationOID(table))
	fmt.Fprintf(&b,
		"SELECT CASE WHEN estimate = -1 THEN %s WHEN estimate > %d THEN %s ELSE (%s) END AS count, estimate = -1 OR estimate > %d AS is_estimate FROM approximation;",
		plannerEstimate, LargeTableThreshold, largeTableCount, exactCount, LargeTableThreshold,
	)
	return b.String()
}

func filteredSelect(table introspection.Table, preds []sq.Sqlizer, columns ...string) (string, error) {
	builder := sq.Select(columns...).
		From(introspection.QualifiedName(table)).
		PlaceholderFormat(sq.Question)
	for _, pred := range preds {
		builder = builder.Where(pred)
	}
	query, _, err := builder.ToSql()
	return query, err
}

// relationOID addresses the relation by oid when known, else by regclass cast.
func relationOID(table introspection.Table) string {
	if table.ID > 0 {
		return fmt.Sprintf("%d", table.ID)
	}
	return sqlutil.QuoteLiteral(introspection.QualifiedName(table)) + "::regclass"
}
