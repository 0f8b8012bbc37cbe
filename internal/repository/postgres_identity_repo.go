package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/campusnest/internal/model"
)

// PostgresIdentityRepo はPostgreSQLを使用したidentityリポジトリ。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	identity := &model.Identity{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, provider, provider_user_id, created_at
		 FROM identities
		 WHERE provider = $1 AND provider_user_id = $2`,
		provider, providerUserID,
	).Scan(&identity.ID, &identity.UserID, &identity.Provider, &identity.ProviderUserID, &identity.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	return identity, nil
}

// FindUserIDByEmail はメールアドレス（大文字小文字を区別しない）で紐付け可能なユーザーIDを検索する。
// 少なくとも1つのidentityを持つユーザーのみを対象とする。見つからない場合は空文字を返す。
func (r *PostgresIdentityRepo) FindUserIDByEmail(ctx context.Context, email string) (string, error) {
	var userID string
	err := r.db.QueryRowContext(ctx,
		`SELECT u.id
		 FROM users u
		 WHERE lower(u.email) = lower($1)
		   AND EXISTS (SELECT 1 FROM identities i WHERE i.user_id = u.id)
		 ORDER BY u.created_at
		 LIMIT 1`,
		email,
	).Scan(&userID)

	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to find user by email: %w", err)
	}
	return userID, nil
}

// Link は既存ユーザーにidentityを追加する。
// 同じprovider_user_idが既に紐付いている場合は何もしない。
func (r *PostgresIdentityRepo) Link(ctx context.Context, identity *model.Identity) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO identities (id, user_id, provider, provider_user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (provider, provider_user_id) DO NOTHING`,
		identity.ID, identity.UserID, identity.Provider, identity.ProviderUserID, identity.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to link identity: %w", err)
	}
	return nil
}

// SyncEmail はIdPから取得した最新のメールアドレスをusers行に反映する。
func (r *PostgresIdentityRepo) SyncEmail(ctx context.Context, userID, email string) error {
	if email == "" {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET email = $2, updated_at = now()
		 WHERE id = $1 AND email <> $2`,
		userID, email,
	)
	if err != nil {
		return fmt.Errorf("failed to sync user email: %w", err)
	}
	return nil
}

// compile-time interface check
var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
