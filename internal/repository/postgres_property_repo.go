package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/hitoshi/campusnest/internal/model"
	"github.com/lib/pq"
)

// updatableColumns はUpdateColumnsで更新を許可する列。
var updatableColumns = map[string]bool{
	"title":             true,
	"description":       true,
	"property_type":     true,
	"address":           true,
	"city":              true,
	"state":             true,
	"postal_code":       true,
	"latitude":          true,
	"longitude":         true,
	"bedrooms":          true,
	"bathrooms":         true,
	"monthly_rent":      true,
	"available_from":    true,
	"lease_term_months": true,
}

// PostgresPropertyRepo はPostgreSQLを使用した物件リポジトリ。
type PostgresPropertyRepo struct {
	db *sql.DB
}

// NewPostgresPropertyRepo はPostgresPropertyRepoを生成する。
func NewPostgresPropertyRepo(db *sql.DB) *PostgresPropertyRepo {
	return &PostgresPropertyRepo{db: db}
}

// Create は下書き物件を作成する。
func (r *PostgresPropertyRepo) Create(ctx context.Context, p *model.Property) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO properties (id, landlord_id, title, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.LandlordID, p.Title, string(p.Status), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("物件の作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDの物件を取得する。見つからない場合はnilを返す。
func (r *PostgresPropertyRepo) FindByID(ctx context.Context, id string) (*model.Property, error) {
	p := &model.Property{}
	var (
		title, description, propertyType sql.NullString
		address, city, state, postalCode sql.NullString
		latitude, longitude              sql.NullFloat64
		bathrooms, monthlyRent           sql.NullFloat64
		bedrooms, leaseTerm              sql.NullInt64
		availableFrom                    sql.NullTime
		status                           string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, landlord_id, title, description, property_type, address, city, state, postal_code,
		        latitude, longitude, bedrooms, bathrooms, monthly_rent, available_from, lease_term_months,
		        status, created_at, updated_at
		 FROM properties WHERE id::text = $1`,
		id,
	).Scan(&p.ID, &p.LandlordID, &title, &description, &propertyType, &address, &city, &state, &postalCode,
		&latitude, &longitude, &bedrooms, &bathrooms, &monthlyRent, &availableFrom, &leaseTerm,
		&status, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("物件の取得に失敗しました: %w", err)
	}

	p.Title = nullStringPtr(title)
	p.Description = nullStringPtr(description)
	p.PropertyType = nullStringPtr(propertyType)
	p.Address = nullStringPtr(address)
	p.City = nullStringPtr(city)
	p.State = nullStringPtr(state)
	p.PostalCode = nullStringPtr(postalCode)
	p.Latitude = nullFloatPtr(latitude)
	p.Longitude = nullFloatPtr(longitude)
	p.Bathrooms = nullFloatPtr(bathrooms)
	p.MonthlyRent = nullFloatPtr(monthlyRent)
	p.Bedrooms = nullIntPtr(bedrooms)
	p.LeaseTermMonths = nullIntPtr(leaseTerm)
	if availableFrom.Valid {
		p.AvailableFrom = &availableFrom.Time
	}
	p.Status = model.PropertyStatus(status)
	return p, nil
}

// UpdateColumns は物件の列を部分更新する。
func (r *PostgresPropertyRepo) UpdateColumns(ctx context.Context, id string, values map[string]interface{}) error {
	if len(values) == 0 {
		return nil
	}

	columns := make([]string, 0, len(values))
	for col := range values {
		if !updatableColumns[col] {
			return fmt.Errorf("更新できない列です: %s", col)
		}
		columns = append(columns, col)
	}
	sort.Strings(columns)

	sets := make([]string, 0, len(columns)+1)
	args := make([]interface{}, 0, len(columns)+1)
	args = append(args, id)
	for i, col := range columns {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i+2))
		args = append(args, values[col])
	}
	sets = append(sets, "updated_at = now()")

	query := fmt.Sprintf("UPDATE properties SET %s WHERE id = $1", strings.Join(sets, ", "))
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("物件の更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateStatus は物件の公開状態を更新する。
func (r *PostgresPropertyRepo) UpdateStatus(ctx context.Context, id string, status model.PropertyStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE properties SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return fmt.Errorf("物件の公開状態の更新に失敗しました: %w", err)
	}
	return nil
}

// ReplaceFeatures はnamesに含まれる名前の属性を削除し、featuresを挿入する。
// (property_id, name) の一意制約により、同時に実行されても同じ名前の行は1つに保たれる。
func (r *PostgresPropertyRepo) ReplaceFeatures(ctx context.Context, propertyID string, names []string, features []model.PropertyFeature) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM property_features WHERE property_id = $1 AND name = ANY($2)`,
		propertyID, pq.Array(names),
	)
	if err != nil {
		return fmt.Errorf("物件属性の削除に失敗しました: %w", err)
	}

	for _, f := range features {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO property_features (id, property_id, category, name, value, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (property_id, name) DO UPDATE
			 SET category = EXCLUDED.category, value = EXCLUDED.value, created_at = EXCLUDED.created_at`,
			f.ID, propertyID, f.Category, f.Name, f.Value, f.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("物件属性の挿入に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// ListFeatures は物件の属性を返す。
func (r *PostgresPropertyRepo) ListFeatures(ctx context.Context, propertyID string, names []string) ([]model.PropertyFeature, error) {
	query := `SELECT id, property_id, category, name, value, created_at
	          FROM property_features WHERE property_id = $1`
	args := []interface{}{propertyID}
	if len(names) > 0 {
		query += ` AND name = ANY($2)`
		args = append(args, pq.Array(names))
	}
	query += ` ORDER BY category, name`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("物件属性の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	features := []model.PropertyFeature{}
	for rows.Next() {
		var f model.PropertyFeature
		if err := rows.Scan(&f.ID, &f.PropertyID, &f.Category, &f.Name, &f.Value, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("物件属性のスキャンに失敗しました: %w", err)
		}
		features = append(features, f)
	}
	return features, rows.Err()
}

// Search はタイトル・市区町村・住所の部分一致で物件を検索する。
func (r *PostgresPropertyRepo) Search(ctx context.Context, query string, limit int) ([]model.PropertySummary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, COALESCE(title, ''), COALESCE(city, ''), COALESCE(address, ''), monthly_rent, status
		 FROM properties
		 WHERE title ILIKE $1 OR city ILIKE $1 OR address ILIKE $1
		 ORDER BY updated_at DESC
		 LIMIT $2`,
		likePattern(query), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("物件検索に失敗しました: %w", err)
	}
	defer rows.Close()

	results := []model.PropertySummary{}
	for rows.Next() {
		var s model.PropertySummary
		var rent sql.NullFloat64
		var status string
		if err := rows.Scan(&s.ID, &s.Title, &s.City, &s.Address, &rent, &status); err != nil {
			return nil, fmt.Errorf("物件のスキャンに失敗しました: %w", err)
		}
		s.MonthlyRent = nullFloatPtr(rent)
		s.Status = model.PropertyStatus(status)
		results = append(results, s)
	}
	return results, rows.Err()
}

func nullFloatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}

func nullIntPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

// PostgresPhotoRepo はPostgreSQLを使用した物件写真リポジトリ。
type PostgresPhotoRepo struct {
	db *sql.DB
}

// NewPostgresPhotoRepo はPostgresPhotoRepoを生成する。
func NewPostgresPhotoRepo(db *sql.DB) *PostgresPhotoRepo {
	return &PostgresPhotoRepo{db: db}
}

// Create は写真メタデータを保存する。
func (r *PostgresPhotoRepo) Create(ctx context.Context, photo *model.PropertyPhoto) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO property_photos (id, property_id, object_key, content_type, size_bytes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		photo.ID, photo.PropertyID, photo.ObjectKey, photo.ContentType, photo.SizeBytes, photo.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("写真メタデータの保存に失敗しました: %w", err)
	}
	return nil
}

// ListByProperty は物件の写真を登録順に返す。
func (r *PostgresPhotoRepo) ListByProperty(ctx context.Context, propertyID string) ([]model.PropertyPhoto, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, property_id, object_key, content_type, size_bytes, created_at
		 FROM property_photos WHERE property_id = $1 ORDER BY created_at, id`,
		propertyID,
	)
	if err != nil {
		return nil, fmt.Errorf("写真一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	photos := []model.PropertyPhoto{}
	for rows.Next() {
		var p model.PropertyPhoto
		if err := rows.Scan(&p.ID, &p.PropertyID, &p.ObjectKey, &p.ContentType, &p.SizeBytes, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("写真のスキャンに失敗しました: %w", err)
		}
		photos = append(photos, p)
	}
	return photos, rows.Err()
}

// compile-time interface check
var (
	_ PropertyRepository = (*PostgresPropertyRepo)(nil)
	_ PhotoRepository    = (*PostgresPhotoRepo)(nil)
)
