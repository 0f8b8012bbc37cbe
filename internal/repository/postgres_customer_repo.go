package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/campusnest/internal/model"
)

// PostgresCustomerRepo はPostgreSQLを使用したcustomersリポジトリ。
type PostgresCustomerRepo struct {
	db *sql.DB
}

// NewPostgresCustomerRepo はPostgresCustomerRepoを生成する。
func NewPostgresCustomerRepo(db *sql.DB) *PostgresCustomerRepo {
	return &PostgresCustomerRepo{db: db}
}

// Exists は指定ユーザーのcustomers行が存在するかを返す。
func (r *PostgresCustomerRepo) Exists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM customers WHERE user_id = $1)`,
		userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check customer existence: %w", err)
	}
	return exists, nil
}

// PostgresRoleRepo はPostgreSQLを使用したuser_rolesリポジトリ。
type PostgresRoleRepo struct {
	db *sql.DB
}

// NewPostgresRoleRepo はPostgresRoleRepoを生成する。
func NewPostgresRoleRepo(db *sql.DB) *PostgresRoleRepo {
	return &PostgresRoleRepo{db: db}
}

// Grant はロールを付与する。既に付与済みの場合は何もしない。
func (r *PostgresRoleRepo) Grant(ctx context.Context, userID string, role model.UserType) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_roles (user_id, role) VALUES ($1, $2)
		 ON CONFLICT (user_id, role) DO NOTHING`,
		userID, string(role),
	)
	if err != nil {
		return fmt.Errorf("failed to grant role: %w", err)
	}
	return nil
}

// HasRole は指定ロールが付与されているかを返す。
func (r *PostgresRoleRepo) HasRole(ctx context.Context, userID string, role model.UserType) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM user_roles WHERE user_id = $1 AND role = $2)`,
		userID, string(role),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check role: %w", err)
	}
	return exists, nil
}

// compile-time interface check
var (
	_ CustomerRepository = (*PostgresCustomerRepo)(nil)
	_ RoleRepository     = (*PostgresRoleRepo)(nil)
)
