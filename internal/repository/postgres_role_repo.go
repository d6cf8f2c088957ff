package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresRoleRepo はPostgreSQLを使用したロールリポジトリ。
type PostgresRoleRepo struct {
	db *sql.DB
}

// NewPostgresRoleRepo はPostgresRoleRepoを生成する。
func NewPostgresRoleRepo(db *sql.DB) *PostgresRoleRepo {
	return &PostgresRoleRepo{db: db}
}

// ListPermissionKeys はロールに付与されたパーミッションキーの一覧を返す。
// キーは (role_id, permission_key) の主キーによりロール内で一意。
func (r *PostgresRoleRepo) ListPermissionKeys(ctx context.Context, roleID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT permission_key FROM role_permissions
		 WHERE role_id = $1
		 ORDER BY permission_key`,
		roleID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list permission keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan permission key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate permission keys: %w", err)
	}

	return keys, nil
}

// compile-time interface check
var _ RoleRepository = (*PostgresRoleRepo)(nil)
