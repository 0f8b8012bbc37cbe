package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/campusnest/internal/model"
)

// PostgresMessageRepo はPostgreSQLを使用したメッセージリポジトリ。
type PostgresMessageRepo struct {
	db *sql.DB
}

// NewPostgresMessageRepo はPostgresMessageRepoを生成する。
func NewPostgresMessageRepo(db *sql.DB) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db}
}

// Create はメッセージを追加する。
func (r *PostgresMessageRepo) Create(ctx context.Context, msg *model.Message) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, content, type, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Content, string(msg.Type), msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("メッセージの作成に失敗しました: %w", err)
	}
	return nil
}

// ListByConversation は会話のメッセージをcreated_at降順で返す。
func (r *PostgresMessageRepo) ListByConversation(ctx context.Context, conversationID string, before time.Time, limit int) ([]*model.Message, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if before.IsZero() {
		rows, err = r.db.QueryContext(ctx,
			`SELECT id, conversation_id, sender_id, content, type, created_at
			 FROM messages
			 WHERE conversation_id = $1
			 ORDER BY created_at DESC, id DESC
			 LIMIT $2`,
			conversationID, limit,
		)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT id, conversation_id, sender_id, content, type, created_at
			 FROM messages
			 WHERE conversation_id = $1 AND created_at < $2
			 ORDER BY created_at DESC, id DESC
			 LIMIT $3`,
			conversationID, before, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("メッセージ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	messages := []*model.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// scanMessage はmessages行を読み取る。
// 列順は id, conversation_id, sender_id, content, type, created_at。
func scanMessage(rows *sql.Rows) (*model.Message, error) {
	msg := &model.Message{}
	var senderID sql.NullString
	var msgType string
	if err := rows.Scan(&msg.ID, &msg.ConversationID, &senderID, &msg.Content, &msgType, &msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("メッセージのスキャンに失敗しました: %w", err)
	}
	msg.SenderID = senderID.String
	msg.Type = model.MessageType(msgType)
	return msg, nil
}

// compile-time interface check
var _ MessageRepository = (*PostgresMessageRepo)(nil)
