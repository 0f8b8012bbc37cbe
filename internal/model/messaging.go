package model

import "time"

// ConversationType は会話の種別を表す。
type ConversationType string

const (
	ConversationDirect  ConversationType = "direct"
	ConversationGroup   ConversationType = "group"
	ConversationSupport ConversationType = "support"
)

// ParticipantRole は会話内での役割を表す。
type ParticipantRole string

const (
	RoleMember ParticipantRole = "member"
	RoleAdmin  ParticipantRole = "admin"
)

// MessageType はメッセージの種別を表す。
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageSystem MessageType = "system"
	MessageImage  MessageType = "image"
)

// Valid はMessageTypeが定義済みの値かどうかを返す。
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageSystem, MessageImage:
		return true
	}
	return false
}

// Conversation はユーザー間の会話を表す。
// groupの場合はTitleが必須。
type Conversation struct {
	ID         string
	Type       ConversationType
	Title      *string
	PropertyID *string
	CreatedBy  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Participant は会話とユーザーの紐付けを表す。
type Participant struct {
	ConversationID string
	UserID         string
	Role           ParticipantRole
	JoinedAt       time.Time
}

// ParticipantInfo は参加者とユーザー情報を結合したもの。
type ParticipantInfo struct {
	UserSummary
	Role ParticipantRole
}

// Message は会話内のメッセージ。追記のみ。
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	Type           MessageType
	CreatedAt      time.Time
}

// ConversationSummary は会話一覧の1行分。
type ConversationSummary struct {
	Conversation
	Participants []ParticipantInfo
	LastMessage  *Message
}

// Notification は通知を表す。ReceiverIDがnilの場合は全体通知。
type Notification struct {
	ID         string
	ReceiverID *string
	Type       string
	Title      string
	Body       string
	Link       *string
	ReadAt     *time.Time
	CreatedAt  time.Time
}
