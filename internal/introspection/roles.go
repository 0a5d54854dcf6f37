package introspection

import (
	"context"
	"fmt"
	"log/slog"
)

// DiscoverRoles returns roles the current user can switch to with SET ROLE.
// It reads pg_roles first and falls back to information_schema.applicable_roles
// when the catalog function is not available to the connected user.
func DiscoverRoles(ctx context.Context, db Queryer) ([]string, error) {
	roles, err := queryRoleNames(ctx, db, `
		SELECT r.rolname
		FROM pg_catalog.pg_roles r
		WHERE pg_has_role(current_user, r.oid, 'MEMBER')
		AND r.rolname <> current_user
		ORDER BY r.rolname
	`)
	if err == nil {
		return roles, nil
	}

	slog.Debug("role discovery fallback to information_schema",
		slog.String("error", err.Error()),
	)
	roles, fallbackErr := queryRoleNames(ctx, db, `
		SELECT role_name
		FROM information_schema.applicable_roles
		WHERE grantee = current_user
		ORDER BY role_name
	`)
	if fallbackErr != nil {
		return nil, fmt.Errorf("role discovery failed: %w", fallbackErr)
	}
	return roles, nil
}

func queryRoleNames(ctx context.Context, db Queryer, query string) ([]string, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	roles := []string{}
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}
