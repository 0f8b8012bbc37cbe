package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/campusnest/internal/model"
	"github.com/lib/pq"
)

// PostgresNotificationRepo はPostgreSQLを使用した通知リポジトリ。
type PostgresNotificationRepo struct {
	db *sql.DB
}

// NewPostgresNotificationRepo はPostgresNotificationRepoを生成する。
func NewPostgresNotificationRepo(db *sql.DB) *PostgresNotificationRepo {
	return &PostgresNotificationRepo{db: db}
}

// Create は通知を作成する。
func (r *PostgresNotificationRepo) Create(ctx context.Context, n *model.Notification) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notifications (id, receiver_id, type, title, body, link, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.ID, n.ReceiverID, n.Type, n.Title, n.Body, n.Link, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("通知の作成に失敗しました: %w", err)
	}
	return nil
}

// ListVisible はユーザー宛てと全体通知を新しい順にlimit件返す。
func (r *PostgresNotificationRepo) ListVisible(ctx context.Context, userID string, limit int) ([]*model.Notification, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, receiver_id, type, title, body, link, read_at, created_at
		 FROM notifications
		 WHERE receiver_id = $1 OR receiver_id IS NULL
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	notifications := []*model.Notification{}
	for rows.Next() {
		n := &model.Notification{}
		var receiverID, link sql.NullString
		var readAt sql.NullTime
		if err := rows.Scan(&n.ID, &receiverID, &n.Type, &n.Title, &n.Body, &link, &readAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("通知のスキャンに失敗しました: %w", err)
		}
		n.ReceiverID = nullStringPtr(receiverID)
		n.Link = nullStringPtr(link)
		if readAt.Valid {
			n.ReadAt = &readAt.Time
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// CountUnread はユーザーから見える未読通知の件数を返す。
func (r *PostgresNotificationRepo) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM notifications
		 WHERE (receiver_id = $1 OR receiver_id IS NULL) AND read_at IS NULL`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("未読通知数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// MarkRead はidsのうちユーザーから見える未読通知を既読にする。
// 他ユーザー宛ての通知や既読の通知は更新対象から除外される。
func (r *PostgresNotificationRepo) MarkRead(ctx context.Context, userID string, ids []string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET read_at = now()
		 WHERE id::text = ANY($2)
		   AND (receiver_id = $1 OR receiver_id IS NULL)
		   AND read_at IS NULL`,
		userID, pq.Array(ids),
	)
	if err != nil {
		return 0, fmt.Errorf("通知の既読化に失敗しました: %w", err)
	}
	return result.RowsAffected()
}

// DeleteReadBefore はbefore以前に既読になった通知を削除する。
func (r *PostgresNotificationRepo) DeleteReadBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE read_at IS NOT NULL AND read_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("既読通知の削除に失敗しました: %w", err)
	}
	return result.RowsAffected()
}

// compile-time interface check
var _ NotificationRepository = (*PostgresNotificationRepo)(nil)
