package messaging

import (
	"log/slog"
	"time"

	"github.com/hitoshi/campusnest/internal/model"
)

// EventNewMessage は新着メッセージのイベント名。
const EventNewMessage = "new-message"

// EventTrigger はリアルタイムサービスへのイベント送信。
type EventTrigger interface {
	Trigger(channel string, eventName string, data interface{}) error
}

// MessageEvent はnew-messageイベントのペイロード。
type MessageEvent struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	Type           string    `json:"type"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewMessageEvent はメッセージからイベントペイロードを生成する。
func NewMessageEvent(msg *model.Message) MessageEvent {
	return MessageEvent{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		Type:           string(msg.Type),
		CreatedAt:      msg.CreatedAt,
	}
}

// Publisher は会話チャネルへのメッセージ配信を行う。
// 配信はベストエフォートで、失敗はログに記録するのみ。
type Publisher struct {
	trigger EventTrigger
}

// NewPublisher はPublisherを生成する。triggerがnilの場合は何も配信しない。
func NewPublisher(trigger EventTrigger) *Publisher {
	return &Publisher{trigger: trigger}
}

// PublishMessage は会話チャネルにnew-messageイベントを送信する。
func (p *Publisher) PublishMessage(msg *model.Message) {
	if p == nil || p.trigger == nil {
		return
	}
	channel := ConversationChannel(msg.ConversationID)
	if err := p.trigger.Trigger(channel, EventNewMessage, NewMessageEvent(msg)); err != nil {
		slog.Warn("failed to publish message event",
			slog.String("conversation_id", msg.ConversationID),
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()),
		)
	}
}
