package dbexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pg-tablerows/internal/sqlutil"
)

// ErrRoleNotAllowed is returned when the requested role is outside the allowlist.
var ErrRoleNotAllowed = errors.New("role not allowed")

// RoleExecutor executes queries using SET ROLE on a dedicated connection.
type RoleExecutor struct {
	db           *sql.DB
	roleFromCtx  func(context.Context) (string, bool)
	allowedRoles map[string]struct{}
	validateRole bool
}

// RoleExecutorConfig controls role execution behavior.
type RoleExecutorConfig struct {
	DB           *sql.DB
	RoleFromCtx  func(context.Context) (string, bool)
	AllowedRoles []string
	ValidateRole bool
}

// NewRoleExecutor creates an executor that applies SET ROLE before each query
// so rows are read with the privileges and row level security policies of
// the role carried by the request context.
func NewRoleExecutor(cfg RoleExecutorConfig) *RoleExecutor {
	allowed := make(map[string]struct{}, len(cfg.AllowedRoles))
	for _, role := range cfg.AllowedRoles {
		allowed[role] = struct{}{}
	}
	roleFromCtx := cfg.RoleFromCtx
	if roleFromCtx == nil {
		roleFromCtx = func(context.Context) (string, bool) { return "", false }
	}
	return &RoleExecutor{
		db:           cfg.DB,
		roleFromCtx:  roleFromCtx,
		allowedRoles: allowed,
		validateRole: cfg.ValidateRole,
	}
}

func (e *RoleExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	conn, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	cleanup := func() {
		resetRole(conn)
	}

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		cleanup()
		return nil, err
	}

	return &roleAwareRows{
		Rows:    rows,
		cleanup: cleanup,
	}, nil
}

func (e *RoleExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	conn, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer resetRole(conn)

	return conn.ExecContext(ctx, query, args...)
}

// acquire returns a connection with the context role applied.
func (e *RoleExecutor) acquire(ctx context.Context) (*sql.Conn, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	role, ok := e.roleFromCtx(ctx)
	if ok && role != "" && e.validateRole {
		if _, allowed := e.allowedRoles[role]; !allowed {
			return nil, fmt.Errorf("%w: %s", ErrRoleNotAllowed, role)
		}
	}

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	if !ok || role == "" {
		return conn, nil
	}

	// SET ROLE takes no bind parameters; the role is quoted as an identifier.
	setRoleSQL := fmt.Sprintf("SET ROLE %s", sqlutil.QuoteIdentifier(role))
	if _, err := conn.ExecContext(ctx, setRoleSQL); err != nil {
		resetRole(conn)
		return nil, fmt.Errorf("failed to set role %s: %w", role, err)
	}
	return conn, nil
}

func resetRole(conn *sql.Conn) {
	_, _ = conn.ExecContext(context.Background(), "RESET ROLE")
	_ = conn.Close()
}

type roleAwareRows struct {
	*sql.Rows
	cleanup func()
}

func (r *roleAwareRows) Close() error {
	defer r.cleanup()
	return r.Rows.Close()
}
