package auth

import (
	"context"
	"database/sql"
	"fmt"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// NotAssigneeError indicates a task action by someone other than its
// current assignee or owner.
type NotAssigneeError struct {
	TaskID string
	UserID string
}

func (e NotAssigneeError) Error() string {
	return fmt.Sprintf("user %s is not allowed to act on task %s", e.UserID, e.TaskID)
}

// AdminRole short-circuits any stage permission check.
const AdminRole = "ADMIN"

// AdminPermission is the catch-all override permission.
const AdminPermission = "case.admin"

// Service provides role and permission lookups backed by SQL.
type Service struct {
	DB *sql.DB
}

// RoleHasPermission reports whether any of the roles carries the
// permission. ADMIN always passes.
func (s Service) RoleHasPermission(ctx context.Context, roles []string, perm string) (bool, error) {
	for _, role := range roles {
		if role == AdminRole {
			return true, nil
		}
		row := s.DB.QueryRowContext(ctx, `SELECT 1 FROM role_permissions WHERE role=? AND permission IN (?,?) LIMIT 1`,
			role, perm, AdminPermission)
		var n int
		err := row.Scan(&n)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// RequirePermission returns ForbiddenError when none of the roles grants
// the permission.
func (s Service) RequirePermission(ctx context.Context, roles []string, perm string) error {
	ok, err := s.RoleHasPermission(ctx, roles, perm)
	if err != nil {
		return err
	}
	if !ok {
		return ForbiddenError{Permission: perm}
	}
	return nil
}

// RolePermissions returns the distinct permissions for the role set.
func (s Service) RolePermissions(ctx context.Context, roles []string) ([]string, error) {
	perms := map[string]bool{}
	for _, role := range roles {
		rows, err := s.DB.QueryContext(ctx, `SELECT permission FROM role_permissions WHERE role=?`, role)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var p string
			if err := rows.Scan(&p); err != nil {
				rows.Close()
				return nil, err
			}
			perms[p] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	res := make([]string, 0, len(perms))
	for p := range perms {
		res = append(res, p)
	}
	return res, nil
}
