package dbexec

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowsExecutor_ExecuteSQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(`SELECT "id", "title", "deleted_at" FROM "public"."posts"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "deleted_at"}).
			AddRow(int64(1), []byte("hello"), nil).
			AddRow(int64(2), "world", nil))

	executor := NewRowsExecutor(NewStandardExecutor(db))
	rows, err := executor.ExecuteSQL(context.Background(), `SELECT "id", "title", "deleted_at" FROM "public"."posts";`)
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, Row{"id": int64(1), "title": "hello", "deleted_at": nil}, rows[0])
	assert.Equal(t, Row{"id": int64(2), "title": "world", "deleted_at": nil}, rows[1])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRowsExecutor_EmptyResult(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("DELETE FROM").WillReturnRows(sqlmock.NewRows(nil))

	rows, err := NewRowsExecutor(NewStandardExecutor(db)).ExecuteSQL(context.Background(), `DELETE FROM "public"."posts";`)
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestRowsExecutor_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("relation does not exist"))

	_, err = NewRowsExecutor(NewStandardExecutor(db)).ExecuteSQL(context.Background(), "SELECT 1;")
	assert.EqualError(t, err, "relation does not exist")
}

func TestRowsExecutor_RowError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"n"}).
		AddRow(int64(1)).
		RowError(0, errors.New("canceling statement due to statement timeout")))

	_, err = NewRowsExecutor(NewStandardExecutor(db)).ExecuteSQL(context.Background(), "SELECT 1;")
	assert.ErrorContains(t, err, "statement timeout")
}

func TestStandardExecutor_NilDB(t *testing.T) {
	executor := NewStandardExecutor(nil)

	_, err := executor.QueryContext(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, sql.ErrConnDone)

	_, err = executor.ExecContext(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, sql.ErrConnDone)
}
