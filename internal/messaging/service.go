package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/campusnest/internal/model"
	"github.com/hitoshi/campusnest/internal/repository"
	"github.com/hitoshi/campusnest/internal/security"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 100
	maxMessageLength    = 5000
)

// UserFilter は存在するユーザーIDの絞り込みを行う。
type UserFilter interface {
	FilterExisting(ctx context.Context, ids []string) ([]string, error)
}

// MessageRecorder はメッセージ送信を記録する。
type MessageRecorder interface {
	RecordMessageSent(messageType string)
}

// CreateConversationRequest は会話作成リクエスト。
type CreateConversationRequest struct {
	ConversationType string   `json:"conversation_type"`
	ParticipantIDs   []string `json:"participant_ids"`
	Content          string   `json:"content"`
	PropertyID       string   `json:"property_id"`
	Title            string   `json:"title"`
}

// CreatedConversation は会話作成の結果。
type CreatedConversation struct {
	Conversation     *model.Conversation
	ParticipantCount int
	FirstMessage     *model.Message
}

// SendMessageRequest はメッセージ送信リクエスト。
type SendMessageRequest struct {
	Content string `json:"content"`
	Type    string `json:"type"`
}

// Service は会話とメッセージのユースケースを提供する。
type Service struct {
	users         UserFilter
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	sanitizer     security.ContentSanitizerService
	publisher     *Publisher
	recorder      MessageRecorder
	now           func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	users UserFilter,
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	sanitizer security.ContentSanitizerService,
	publisher *Publisher,
	recorder MessageRecorder,
) *Service {
	return &Service{
		users:         users,
		conversations: conversations,
		messages:      messages,
		sanitizer:     sanitizer,
		publisher:     publisher,
		recorder:      recorder,
		now:           time.Now,
	}
}

// CreateConversation は会話と参加者を作成し、contentがあれば最初のメッセージを追加する。
// 会話と参加者は同一トランザクションで作成する。最初のメッセージの失敗は会話を取り消さない。
func (s *Service) CreateConversation(ctx context.Context, callerID string, req CreateConversationRequest) (*CreatedConversation, error) {
	convType := model.ConversationType(strings.TrimSpace(req.ConversationType))
	if convType == "" {
		convType = model.ConversationDirect
	}
	if convType != model.ConversationDirect && convType != model.ConversationGroup {
		return nil, model.NewValidationError(model.ErrCodeInvalidConversationType,
			fmt.Sprintf("会話の種別が不正です: %s", req.ConversationType), "conversation_type")
	}

	others, err := s.resolveParticipants(ctx, callerID, req.ParticipantIDs)
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(req.Title)
	switch convType {
	case model.ConversationDirect:
		if len(others) != 1 {
			return nil, model.NewValidationError(model.ErrCodeDirectRequiresOneParticipant,
				"1対1の会話には相手を1人だけ指定してください。", "participant_ids")
		}
	case model.ConversationGroup:
		if len(others) < 2 || title == "" {
			return nil, model.NewValidationError(model.ErrCodeGroupRequirementsNotMet,
				"グループ会話には2人以上の参加者とタイトルが必要です。", "participant_ids", "title")
		}
	}

	var propertyID *string
	if pid := strings.TrimSpace(req.PropertyID); pid != "" {
		if _, err := uuid.Parse(pid); err != nil {
			return nil, model.NewValidationError(model.ErrCodeInvalidRequest,
				fmt.Sprintf("物件IDが不正です: %s", pid), "property_id")
		}
		propertyID = &pid
	}

	now := s.now()
	conv := &model.Conversation{
		ID:         uuid.New().String(),
		Type:       convType,
		PropertyID: propertyID,
		CreatedBy:  callerID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if title != "" {
		conv.Title = &title
	}

	creatorRole := model.RoleMember
	if convType == model.ConversationGroup {
		creatorRole = model.RoleAdmin
	}
	participants := make([]model.Participant, 0, len(others)+1)
	participants = append(participants, model.Participant{
		ConversationID: conv.ID, UserID: callerID, Role: creatorRole, JoinedAt: now,
	})
	for _, id := range others {
		participants = append(participants, model.Participant{
			ConversationID: conv.ID, UserID: id, Role: model.RoleMember, JoinedAt: now,
		})
	}

	if err := s.conversations.CreateWithParticipants(ctx, conv, participants); err != nil {
		return nil, fmt.Errorf("会話の作成に失敗しました: %w", err)
	}

	result := &CreatedConversation{
		Conversation:     conv,
		ParticipantCount: len(participants),
	}

	if content := s.sanitizer.PlainText(req.Content); content != "" {
		msg := s.newMessage(conv.ID, callerID, content, model.MessageText)
		if err := s.messages.Create(ctx, msg); err != nil {
			slog.Error("failed to store first message",
				slog.String("conversation_id", conv.ID),
				slog.String("user_id", callerID),
				slog.String("error", err.Error()),
			)
		} else {
			result.FirstMessage = msg
			s.delivered(msg)
		}
	}

	return result, nil
}

// resolveParticipants は呼び出し元と重複を除いた参加者IDを検証して返す。
func (s *Service) resolveParticipants(ctx context.Context, callerID string, ids []string) ([]string, error) {
	seen := make(map[string]struct{}, len(ids))
	others := make([]string, 0, len(ids))
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" || id == callerID {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		if _, err := uuid.Parse(id); err != nil {
			return nil, invalidParticipantsError([]string{id})
		}
		seen[id] = struct{}{}
		others = append(others, id)
	}
	if len(others) == 0 {
		return others, nil
	}

	existing, err := s.users.FilterExisting(ctx, others)
	if err != nil {
		return nil, fmt.Errorf("参加者の確認に失敗しました: %w", err)
	}
	if len(existing) != len(others) {
		found := make(map[string]struct{}, len(existing))
		for _, id := range existing {
			found[id] = struct{}{}
		}
		var unknown []string
		for _, id := range others {
			if _, ok := found[id]; !ok {
				unknown = append(unknown, id)
			}
		}
		return nil, invalidParticipantsError(unknown)
	}
	return others, nil
}

func invalidParticipantsError(unknown []string) *model.APIError {
	return model.NewValidationError(model.ErrCodeInvalidParticipants,
		fmt.Sprintf("存在しないユーザーが含まれています: %s", strings.Join(unknown, ", ")),
		"participant_ids")
}

// ListConversations は呼び出し元が参加する会話を最新の活動順に返す。
func (s *Service) ListConversations(ctx context.Context, callerID string) ([]model.ConversationSummary, error) {
	convs, err := s.conversations.ListByUser(ctx, callerID)
	if err != nil {
		return nil, fmt.Errorf("会話一覧の取得に失敗しました: %w", err)
	}
	return convs, nil
}

// ListMessages は会話のメッセージを新しい順に返す。参加者のみ参照できる。
func (s *Service) ListMessages(ctx context.Context, callerID, conversationID string, before time.Time, limit int) ([]*model.Message, error) {
	if err := s.requireParticipant(ctx, callerID, conversationID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = defaultMessageLimit
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}

	msgs, err := s.messages.ListByConversation(ctx, conversationID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("メッセージの取得に失敗しました: %w", err)
	}
	return msgs, nil
}

// SendMessage は会話にメッセージを追加し、会話チャネルへ配信する。
func (s *Service) SendMessage(ctx context.Context, callerID, conversationID string, req SendMessageRequest) (*model.Message, error) {
	msgType := model.MessageType(strings.TrimSpace(req.Type))
	if msgType == "" {
		msgType = model.MessageText
	}
	if !msgType.Valid() {
		return nil, model.NewValidationError(model.ErrCodeInvalidMessageType,
			fmt.Sprintf("メッセージの種別が不正です: %s", req.Type), "type")
	}

	content := s.sanitizer.PlainText(req.Content)
	if content == "" {
		return nil, model.NewValidationError(model.ErrCodeEmptyMessage,
			"メッセージを入力してください。", "content")
	}
	if len([]rune(content)) > maxMessageLength {
		return nil, model.NewValidationError(model.ErrCodeInvalidRequest,
			fmt.Sprintf("メッセージは%d文字以内で入力してください。", maxMessageLength), "content")
	}

	if err := s.requireParticipant(ctx, callerID, conversationID); err != nil {
		return nil, err
	}

	msg := s.newMessage(conversationID, callerID, content, msgType)
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("メッセージの保存に失敗しました: %w", err)
	}

	if err := s.conversations.Touch(ctx, conversationID); err != nil {
		slog.Warn("failed to touch conversation",
			slog.String("conversation_id", conversationID),
			slog.String("error", err.Error()),
		)
	}

	s.delivered(msg)
	return msg, nil
}

// requireParticipant は会話の存在と参加を確認する。
func (s *Service) requireParticipant(ctx context.Context, callerID, conversationID string) error {
	if _, err := uuid.Parse(conversationID); err != nil {
		return model.NewConversationNotFoundError(conversationID)
	}

	conv, err := s.conversations.FindByID(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("会話の取得に失敗しました: %w", err)
	}
	if conv == nil {
		return model.NewConversationNotFoundError(conversationID)
	}

	ok, err := s.conversations.IsParticipant(ctx, conversationID, callerID)
	if err != nil {
		return fmt.Errorf("参加者の確認に失敗しました: %w", err)
	}
	if !ok {
		return model.NewForbiddenError(model.ErrCodeNotParticipant, "この会話の参加者ではありません。")
	}
	return nil
}

func (s *Service) newMessage(conversationID, senderID, content string, msgType model.MessageType) *model.Message {
	return &model.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Type:           msgType,
		CreatedAt:      s.now(),
	}
}

// delivered は保存済みメッセージの配信と記録を行う。
func (s *Service) delivered(msg *model.Message) {
	s.publisher.PublishMessage(msg)
	if s.recorder != nil {
		s.recorder.RecordMessageSent(string(msg.Type))
	}
}
