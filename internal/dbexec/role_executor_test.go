package dbexec

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roleFrom(role string) func(context.Context) (string, bool) {
	return func(context.Context) (string, bool) {
		return role, role != ""
	}
}

func TestNewRoleExecutor(t *testing.T) {
	t.Run("allowlist is populated", func(t *testing.T) {
		executor := NewRoleExecutor(RoleExecutorConfig{
			AllowedRoles: []string{"anon", "authenticated"},
			ValidateRole: true,
		})
		assert.Len(t, executor.allowedRoles, 2)
		assert.Contains(t, executor.allowedRoles, "anon")
		assert.Contains(t, executor.allowedRoles, "authenticated")
		assert.True(t, executor.validateRole)
	})

	t.Run("missing role function means no role", func(t *testing.T) {
		executor := NewRoleExecutor(RoleExecutorConfig{})
		role, ok := executor.roleFromCtx(context.Background())
		assert.False(t, ok)
		assert.Empty(t, role)
	})
}

func TestRoleExecutor_QuerySetsAndResetsRole(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec(regexp.QuoteMeta(`SET ROLE "anon"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id" FROM "public"."posts"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectExec("RESET ROLE").WillReturnResult(sqlmock.NewResult(0, 0))

	executor := NewRoleExecutor(RoleExecutorConfig{
		DB:           db,
		RoleFromCtx:  roleFrom("anon"),
		AllowedRoles: []string{"anon"},
		ValidateRole: true,
	})

	rows, err := NewRowsExecutor(executor).ExecuteSQL(context.Background(), `SELECT "id" FROM "public"."posts";`)
	require.NoError(t, err)
	assert.Equal(t, []Row{{"id": int64(7)}}, rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoleExecutor_NoRoleSkipsSetRole(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(int64(1)))
	mock.ExpectExec("RESET ROLE").WillReturnResult(sqlmock.NewResult(0, 0))

	executor := NewRoleExecutor(RoleExecutorConfig{DB: db, RoleFromCtx: roleFrom("")})
	_, err = NewRowsExecutor(executor).ExecuteSQL(context.Background(), "SELECT 1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoleExecutor_RejectsRoleOutsideAllowlist(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	executor := NewRoleExecutor(RoleExecutorConfig{
		DB:           db,
		RoleFromCtx:  roleFrom("postgres"),
		AllowedRoles: []string{"anon"},
		ValidateRole: true,
	})

	_, err = executor.QueryContext(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, ErrRoleNotAllowed)

	_, err = executor.ExecContext(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, ErrRoleNotAllowed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoleExecutor_SetRoleFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec(regexp.QuoteMeta(`SET ROLE "ghost"`)).WillReturnError(errors.New(`role "ghost" does not exist`))
	mock.ExpectExec("RESET ROLE").WillReturnResult(sqlmock.NewResult(0, 0))

	executor := NewRoleExecutor(RoleExecutorConfig{DB: db, RoleFromCtx: roleFrom("ghost")})
	_, err = executor.QueryContext(context.Background(), "SELECT 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to set role ghost")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoleExecutor_ExecContext(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec(regexp.QuoteMeta(`SET ROLE "authenticated"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`TRUNCATE "public"."posts"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("RESET ROLE").WillReturnResult(sqlmock.NewResult(0, 0))

	executor := NewRoleExecutor(RoleExecutorConfig{DB: db, RoleFromCtx: roleFrom("authenticated")})
	_, err = executor.ExecContext(context.Background(), `TRUNCATE "public"."posts";`)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoleExecutor_NilDB(t *testing.T) {
	executor := NewRoleExecutor(RoleExecutorConfig{})
	_, err := executor.QueryContext(context.Background(), "SELECT 1")
	assert.Error(t, err)
}
