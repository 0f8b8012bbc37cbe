package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/campusnest/internal/model"
	"github.com/lib/pq"
)

// PostgresConversationRepo はPostgreSQLを使用した会話リポジトリ。
type PostgresConversationRepo struct {
	db *sql.DB
}

// NewPostgresConversationRepo はPostgresConversationRepoを生成する。
func NewPostgresConversationRepo(db *sql.DB) *PostgresConversationRepo {
	return &PostgresConversationRepo{db: db}
}

// CreateWithParticipants は会話と参加者を同一トランザクションで作成する。
// いずれかの挿入に失敗した場合は会話も残らない。
func (r *PostgresConversationRepo) CreateWithParticipants(ctx context.Context, conv *model.Conversation, participants []model.Participant) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (id, type, title, property_id, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		conv.ID, string(conv.Type), conv.Title, conv.PropertyID, conv.CreatedBy, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("会話の作成に失敗しました: %w", err)
	}

	for _, p := range participants {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO conversation_participants (conversation_id, user_id, role, joined_at)
			 VALUES ($1, $2, $3, $4)`,
			p.ConversationID, p.UserID, string(p.Role), p.JoinedAt,
		)
		if err != nil {
			return fmt.Errorf("参加者の追加に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDの会話を取得する。見つからない場合はnilを返す。
func (r *PostgresConversationRepo) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	conv := &model.Conversation{}
	var title, propertyID, createdBy sql.NullString
	var convType string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, type, title, property_id, created_by, created_at, updated_at
		 FROM conversations WHERE id = $1`,
		id,
	).Scan(&conv.ID, &convType, &title, &propertyID, &createdBy, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("会話の取得に失敗しました: %w", err)
	}
	conv.Type = model.ConversationType(convType)
	conv.Title = nullStringPtr(title)
	conv.PropertyID = nullStringPtr(propertyID)
	conv.CreatedBy = createdBy.String
	return conv, nil
}

// IsParticipant は指定ユーザーが会話の参加者かを返す。
func (r *PostgresConversationRepo) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM conversation_participants
		     WHERE conversation_id::text = $1 AND user_id::text = $2
		 )`,
		conversationID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("参加者の確認に失敗しました: %w", err)
	}
	return exists, nil
}

// ListByUser はユーザーが参加する会話を、参加者と最新メッセージ付きで返す。
// 1. 会話一覧 2. 参加者 3. 各会話の最新メッセージ の3クエリで構成する。
func (r *PostgresConversationRepo) ListByUser(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT c.id, c.type, c.title, c.property_id, c.created_by, c.created_at, c.updated_at
		 FROM conversations c
		 JOIN conversation_participants cp ON cp.conversation_id = c.id
		 WHERE cp.user_id = $1
		 ORDER BY c.updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("会話一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	summaries := []model.ConversationSummary{}
	index := make(map[string]int)
	var ids []string
	for rows.Next() {
		var s model.ConversationSummary
		var title, propertyID, createdBy sql.NullString
		var convType string
		if err := rows.Scan(&s.ID, &convType, &title, &propertyID, &createdBy, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("会話のスキャンに失敗しました: %w", err)
		}
		s.Type = model.ConversationType(convType)
		s.Title = nullStringPtr(title)
		s.PropertyID = nullStringPtr(propertyID)
		s.CreatedBy = createdBy.String
		s.Participants = []model.ParticipantInfo{}
		index[s.ID] = len(summaries)
		ids = append(ids, s.ID)
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("会話一覧の読み取りに失敗しました: %w", err)
	}
	if len(ids) == 0 {
		return summaries, nil
	}

	if err := r.attachParticipants(ctx, ids, summaries, index); err != nil {
		return nil, err
	}
	if err := r.attachLastMessages(ctx, ids, summaries, index); err != nil {
		return nil, err
	}
	return summaries, nil
}

func (r *PostgresConversationRepo) attachParticipants(ctx context.Context, ids []string, summaries []model.ConversationSummary, index map[string]int) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT cp.conversation_id, u.id, COALESCE(u.username, ''), COALESCE(u.first_name, ''),
		        COALESCE(u.last_name, ''), cp.role
		 FROM conversation_participants cp
		 JOIN users u ON u.id = cp.user_id
		 WHERE cp.conversation_id::text = ANY($1)
		 ORDER BY cp.joined_at, u.id`,
		pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("参加者一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var convID, role string
		var p model.ParticipantInfo
		if err := rows.Scan(&convID, &p.ID, &p.Username, &p.FirstName, &p.LastName, &role); err != nil {
			return fmt.Errorf("参加者のスキャンに失敗しました: %w", err)
		}
		p.Role = model.ParticipantRole(role)
		if i, ok := index[convID]; ok {
			summaries[i].Participants = append(summaries[i].Participants, p)
		}
	}
	return rows.Err()
}

func (r *PostgresConversationRepo) attachLastMessages(ctx context.Context, ids []string, summaries []model.ConversationSummary, index map[string]int) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT ON (conversation_id) id, conversation_id, sender_id, content, type, created_at
		 FROM messages
		 WHERE conversation_id::text = ANY($1)
		 ORDER BY conversation_id, created_at DESC, id DESC`,
		pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("最新メッセージの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return err
		}
		if i, ok := index[msg.ConversationID]; ok {
			summaries[i].LastMessage = msg
		}
	}
	return rows.Err()
}

// Touch は会話のupdated_atを現在時刻に更新する。
func (r *PostgresConversationRepo) Touch(ctx context.Context, conversationID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = now() WHERE id = $1`,
		conversationID,
	)
	if err != nil {
		return fmt.Errorf("会話の更新日時の更新に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ConversationRepository = (*PostgresConversationRepo)(nil)
