package repo

import (
	"context"
	"database/sql"
)

func (r Repo) AddRolePermission(ctx context.Context, tx *sql.Tx, role, permission string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO role_permissions(role, permission) VALUES (?,?)`, role, permission)
	return err
}

func (r Repo) RemoveRolePermission(ctx context.Context, tx *sql.Tx, role, permission string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role=? AND permission=?`, role, permission)
	return err
}

// RolePermissions returns the permission set granted to the given roles.
func (r Repo) RolePermissions(ctx context.Context, roles []string) (map[string]bool, error) {
	perms := map[string]bool{}
	for _, role := range roles {
		rows, err := r.DB.QueryContext(ctx, `SELECT permission FROM role_permissions WHERE role=?`, role)
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
	return perms, nil
}

func (r Repo) ListRolePermissions(ctx context.Context) (map[string][]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT role, permission FROM role_permissions ORDER BY role, permission`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string][]string{}
	for rows.Next() {
		var role, perm string
		if err := rows.Scan(&role, &perm); err != nil {
			return nil, err
		}
		res[role] = append(res[role], perm)
	}
	return res, rows.Err()
}
