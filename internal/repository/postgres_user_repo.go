package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hitoshi/campusnest/internal/model"
	"github.com/lib/pq"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user := &model.User{}
	var (
		username, firstName, lastName     sql.NullString
		userType, phone, university, bio sql.NullString
		dob                               sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, name, username, first_name, last_name, date_of_birth,
		        user_type, phone, university, bio, onboarded, created_at, updated_at
		 FROM users WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.Email, &user.Name, &username, &firstName, &lastName, &dob,
		&userType, &phone, &university, &bio, &user.Onboarded, &user.CreatedAt, &user.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	user.Username = nullStringPtr(username)
	user.FirstName = nullStringPtr(firstName)
	user.LastName = nullStringPtr(lastName)
	user.Phone = nullStringPtr(phone)
	user.University = nullStringPtr(university)
	user.Bio = nullStringPtr(bio)
	if dob.Valid {
		user.DateOfBirth = &dob.Time
	}
	if userType.Valid {
		t := model.UserType(userType.String)
		user.UserType = &t
	}
	return user, nil
}

// Exists は指定IDのユーザー行が存在するかを返す。
func (r *PostgresUserRepo) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`,
		id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}
	return exists, nil
}

// FindIDByUsername はユーザー名（大文字小文字を区別しない）でユーザーIDを検索する。
func (r *PostgresUserRepo) FindIDByUsername(ctx context.Context, username string) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx,
		`SELECT id FROM users WHERE lower(username) = lower($1)`,
		username,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to find user by username: %w", err)
	}
	return id, nil
}

// FilterExisting はidsのうち存在するユーザーIDのみを返す。
func (r *PostgresUserRepo) FilterExisting(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM users WHERE id::text = ANY($1)`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to filter existing users: %w", err)
	}
	defer rows.Close()

	var existing []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		existing = append(existing, id)
	}
	return existing, rows.Err()
}

// CompleteProfile はプロフィール更新とcustomers行のUPSERTを同一トランザクションで行う。
// ユーザー行が存在しない場合はsql.ErrNoRowsをラップして返す。
func (r *PostgresUserRepo) CompleteProfile(ctx context.Context, profile *model.UserProfile, customer *model.Customer) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE users
		 SET username = $2, first_name = $3, last_name = $4, date_of_birth = $5,
		     user_type = $6, phone = $7, university = $8, bio = $9,
		     notify_email = $10, notify_sms = $11, notify_marketing = $12,
		     onboarded = TRUE, updated_at = now()
		 WHERE id = $1`,
		profile.UserID, profile.Username, profile.FirstName, profile.LastName, profile.DateOfBirth,
		string(profile.UserType), emptyToNull(profile.Phone), emptyToNull(profile.University), emptyToNull(profile.Bio),
		profile.Notifications.Email, profile.Notifications.SMS, profile.Notifications.Marketing,
	)
	if err != nil {
		return fmt.Errorf("failed to update user profile: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	} else if n == 0 {
		return fmt.Errorf("user %s: %w", profile.UserID, sql.ErrNoRows)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO customers (user_id, first_name, last_name, date_of_birth, address_line, city, state, postal_code)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (user_id) DO UPDATE SET
		     first_name = EXCLUDED.first_name,
		     last_name = EXCLUDED.last_name,
		     date_of_birth = EXCLUDED.date_of_birth,
		     address_line = EXCLUDED.address_line,
		     city = EXCLUDED.city,
		     state = EXCLUDED.state,
		     postal_code = EXCLUDED.postal_code`,
		customer.UserID, customer.FirstName, customer.LastName, customer.DateOfBirth,
		emptyToNull(customer.AddressLine), emptyToNull(customer.City),
		emptyToNull(customer.State), emptyToNull(customer.PostalCode),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert customer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Search はユーザー名・氏名の部分一致でユーザーを検索する。
func (r *PostgresUserRepo) Search(ctx context.Context, query, excludeID string, limit int) ([]model.UserSummary, error) {
	pattern := likePattern(query)
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, COALESCE(username, ''), COALESCE(first_name, ''), COALESCE(last_name, '')
		 FROM users
		 WHERE id::text <> $2
		   AND (username ILIKE $1 OR first_name ILIKE $1 OR last_name ILIKE $1)
		 ORDER BY username NULLS LAST, id
		 LIMIT $3`,
		pattern, excludeID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	defer rows.Close()

	results := []model.UserSummary{}
	for rows.Next() {
		var s model.UserSummary
		if err := rows.Scan(&s.ID, &s.Username, &s.FirstName, &s.LastName); err != nil {
			return nil, fmt.Errorf("failed to scan user summary: %w", err)
		}
		results = append(results, s)
	}
	return results, rows.Err()
}

// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
func (r *PostgresUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// ユーザーを作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, email, name, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.Email, user.Name, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	// identityを作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO identities (id, user_id, provider, provider_user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		identity.ID, identity.UserID, identity.Provider, identity.ProviderUserID, identity.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert identity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// DeleteByID は指定IDのユーザーを削除する。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", id)
	}
	return nil
}

// likePattern は部分一致検索用のILIKEパターンを生成する。
// ワイルドカード文字はエスケープする。
func likePattern(query string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + replacer.Replace(strings.TrimSpace(query)) + "%"
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func emptyToNull(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
