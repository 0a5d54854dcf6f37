//go:build integration

package integration

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pg-tablerows/internal/planner"
	"pg-tablerows/internal/tablerows"
	"pg-tablerows/internal/testutil/pgtest"
)

const fixture = `
CREATE TYPE mood AS ENUM ('happy', 'sad');
CREATE TABLE notes (
	id bigint PRIMARY KEY,
	title text,
	body text,
	moods mood[],
	score numeric
);
INSERT INTO notes (id, title, body, moods, score)
SELECT g, 'note ' || g, CASE WHEN g = 1 THEN repeat('x', 20000) ELSE 'short' END,
	ARRAY['happy']::mood[], g * 1.5
FROM generate_series(1, 25) AS g;
ANALYZE notes;
`

func TestFetchRows_AgainstPostgres(t *testing.T) {
	requireIntegrationEnv(t)
	tdb := pgtest.NewTestDB(t)
	tdb.Exec(t, fixture)

	table := loadTable(t, tdb, "notes")
	svc := newService(tdb)
	ctx := context.Background()

	rows, err := svc.FetchRows(ctx, planner.TableRowsQueryArgs{Table: table, Page: 1, Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 10)

	body := rows[0]["body"].(string)
	assert.Len(t, body, planner.MaxCharacters+3)
	assert.True(t, strings.HasSuffix(body, "..."))
	assert.Equal(t, "{happy}", rows[0]["moods"])

	rows, err = svc.FetchRows(ctx, planner.TableRowsQueryArgs{
		Table:   table,
		Filters: []planner.Filter{{Column: "title", Operator: "~~", Value: "note 2%"}},
		Sorts:   []planner.Sort{{Column: "id", Ascending: false}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.EqualValues(t, 25, rows[0]["id"])
}

func TestCountRows_AgainstPostgres(t *testing.T) {
	requireIntegrationEnv(t)
	tdb := pgtest.NewTestDB(t)
	tdb.Exec(t, fixture)

	table := loadTable(t, tdb, "notes")
	svc := newService(tdb)

	exact, err := svc.CountRows(context.Background(), planner.CountQueryArgs{Table: table, Exact: true})
	require.NoError(t, err)
	assert.Equal(t, tablerows.CountResult{Count: 25}, exact)

	estimated, err := svc.CountRows(context.Background(), planner.CountQueryArgs{Table: table})
	require.NoError(t, err)
	assert.Equal(t, int64(25), estimated.Count)
	assert.False(t, estimated.IsEstimate)

	filtered, err := svc.CountRows(context.Background(), planner.CountQueryArgs{
		Table:   table,
		Filters: []planner.Filter{{Column: "id", Operator: "<=", Value: "5"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), filtered.Count)
}

func TestFetchAllRows_AgainstPostgres(t *testing.T) {
	requireIntegrationEnv(t)
	tdb := pgtest.NewTestDB(t)
	tdb.Exec(t, fixture)

	table := loadTable(t, tdb, "notes")
	svc := newService(tdb, tablerows.WithExportPageSize(10))

	result := svc.FetchAllRows(context.Background(), tablerows.FetchAllArgs{Table: table})
	require.NoError(t, result.Err)
	assert.False(t, result.Truncated)
	assert.Equal(t, 3, result.Pages)
	require.Len(t, result.Rows, 25)
	for i, row := range result.Rows {
		assert.EqualValues(t, i+1, row["id"])
	}
}

func TestMutations_AgainstPostgres(t *testing.T) {
	requireIntegrationEnv(t)
	tdb := pgtest.NewTestDB(t)
	tdb.Exec(t, fixture)

	table := loadTable(t, tdb, "notes")
	svc := newService(tdb)
	ctx := context.Background()

	query, err := planner.BuildUpdateRowQuery(*table, map[string]any{"id": 3}, map[string]any{"title": "It's edited"})
	require.NoError(t, err)
	updated, err := svc.ExecuteMutation(ctx, table.Name, query)
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, "It's edited", updated[0]["title"])

	query, err = planner.BuildDeleteRowsQuery(*table, []map[string]any{{"id": 1}, {"id": 2}})
	require.NoError(t, err)
	_, err = svc.ExecuteMutation(ctx, table.Name, query)
	require.NoError(t, err)

	query, err = planner.BuildDeleteAllQuery(*table, []planner.Filter{{Column: "id", Operator: ">", Value: "20"}})
	require.NoError(t, err)
	_, err = svc.ExecuteMutation(ctx, table.Name, query)
	require.NoError(t, err)

	count, err := svc.CountRows(ctx, planner.CountQueryArgs{Table: table, Exact: true})
	require.NoError(t, err)
	assert.Equal(t, int64(18), count.Count)

	query, err = planner.BuildTruncateQuery(*table, false)
	require.NoError(t, err)
	_, err = svc.ExecuteMutation(ctx, table.Name, query)
	require.NoError(t, err)

	count, err = svc.CountRows(ctx, planner.CountQueryArgs{Table: table, Exact: true})
	require.NoError(t, err)
	assert.Equal(t, int64(0), count.Count)
}
