// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/campusnest/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// Exists は指定IDのユーザー行が存在するかを返す。
	Exists(ctx context.Context, id string) (bool, error)

	// FindIDByUsername はユーザー名（大文字小文字を区別しない）でユーザーIDを検索する。
	// 見つからない場合は空文字を返す。
	FindIDByUsername(ctx context.Context, username string) (string, error)

	// FilterExisting はidsのうち存在するユーザーIDのみを返す。
	FilterExisting(ctx context.Context, ids []string) ([]string, error)

	// CompleteProfile はプロフィール更新とcustomers行のUPSERTを同一トランザクションで行う。
	CompleteProfile(ctx context.Context, profile *model.UserProfile, customer *model.Customer) error

	// Search はユーザー名・氏名の部分一致でユーザーを検索する。excludeIDのユーザーは除外する。
	Search(ctx context.Context, query, excludeID string, limit int) ([]model.UserSummary, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、customers、user_roles、sessions、参加情報はCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// CustomerRepository はcustomersテーブルの参照インターフェース。
type CustomerRepository interface {
	// Exists は指定ユーザーのcustomers行が存在するかを返す。
	Exists(ctx context.Context, userID string) (bool, error)
}

// RoleRepository はuser_rolesテーブルの永続化インターフェース。
type RoleRepository interface {
	// Grant はロールを付与する。既に付与済みの場合は何もしない。
	Grant(ctx context.Context, userID string, role model.UserType) error

	// HasRole は指定ロールが付与されているかを返す。
	HasRole(ctx context.Context, userID string, role model.UserType) (bool, error)
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)

	// FindUserIDByEmail はメールアドレスで紐付け可能なユーザーIDを検索する。見つからない場合は空文字を返す。
	FindUserIDByEmail(ctx context.Context, email string) (string, error)

	// Link は既存ユーザーにidentityを追加する。紐付け済みの場合は何もしない。
	Link(ctx context.Context, identity *model.Identity) error

	// SyncEmail はIdPの最新メールアドレスをusers行に反映する。
	SyncEmail(ctx context.Context, userID, email string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。
	// リフレッシュ期限を過ぎたセッションはnilを返す。expires_atの判定は呼び出し側が行う。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// Extend はセッションの有効期限を延長する。
	Extend(ctx context.Context, id string, expiresAt time.Time) error
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired はリフレッシュ期限がbefore以前のセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// ConversationRepository は会話と参加者の永続化インターフェース。
type ConversationRepository interface {
	// CreateWithParticipants は会話と参加者を同一トランザクションで作成する。
	CreateWithParticipants(ctx context.Context, conv *model.Conversation, participants []model.Participant) error

	// FindByID は指定IDの会話を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Conversation, error)

	// IsParticipant は指定ユーザーが会話の参加者かを返す。
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)

	// ListByUser はユーザーが参加する会話を、参加者と最新メッセージ付きで更新日時の降順に返す。
	ListByUser(ctx context.Context, userID string) ([]model.ConversationSummary, error)

	// Touch は会話のupdated_atを現在時刻に更新する。
	Touch(ctx context.Context, conversationID string) error
}

// MessageRepository はメッセージの永続化インターフェース。
type MessageRepository interface {
	// Create はメッセージを追加する。
	Create(ctx context.Context, msg *model.Message) error

	// ListByConversation は会話のメッセージをcreated_at降順で返す。
	// beforeがゼロ値でない場合はそれより古いメッセージのみを返す。
	ListByConversation(ctx context.Context, conversationID string, before time.Time, limit int) ([]*model.Message, error)
}

// PropertyRepository は物件と物件属性の永続化インターフェース。
type PropertyRepository interface {
	// Create は下書き物件を作成する。
	Create(ctx context.Context, property *model.Property) error

	// FindByID は指定IDの物件を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Property, error)

	// UpdateColumns は物件の列を部分更新する。キーは列名。
	// 更新可能な列以外が含まれる場合はエラーを返す。
	UpdateColumns(ctx context.Context, id string, values map[string]interface{}) error

	// UpdateStatus は物件の公開状態を更新する。
	UpdateStatus(ctx context.Context, id string, status model.PropertyStatus) error

	// ReplaceFeatures はnamesに含まれる名前の属性を削除し、featuresを挿入する。
	// 削除と挿入は同一トランザクションで行う。
	ReplaceFeatures(ctx context.Context, propertyID string, names []string, features []model.PropertyFeature) error

	// ListFeatures は物件の属性を返す。namesが空でない場合はその名前に限定する。
	ListFeatures(ctx context.Context, propertyID string, names []string) ([]model.PropertyFeature, error)

	// Search はタイトル・市区町村・住所の部分一致で物件を検索する。
	Search(ctx context.Context, query string, limit int) ([]model.PropertySummary, error)
}

// PhotoRepository は物件写真メタデータの永続化インターフェース。
type PhotoRepository interface {
	// Create は写真メタデータを保存する。
	Create(ctx context.Context, photo *model.PropertyPhoto) error

	// ListByProperty は物件の写真を登録順に返す。
	ListByProperty(ctx context.Context, propertyID string) ([]model.PropertyPhoto, error)
}

// NotificationRepository は通知の永続化インターフェース。
type NotificationRepository interface {
	// Create は通知を作成する。ReceiverIDがnilの場合は全体通知。
	Create(ctx context.Context, n *model.Notification) error

	// ListVisible はユーザー宛てと全体通知を新しい順にlimit件返す。
	ListVisible(ctx context.Context, userID string, limit int) ([]*model.Notification, error)

	// CountUnread はユーザーから見える未読通知の件数を返す。
	CountUnread(ctx context.Context, userID string) (int, error)

	// MarkRead はidsのうちユーザーから見える未読通知を既読にし、更新件数を返す。
	MarkRead(ctx context.Context, userID string, ids []string) (int64, error)

	// DeleteReadBefore はbefore以前に既読になった通知を削除し、削除件数を返す。
	DeleteReadBefore(ctx context.Context, before time.Time) (int64, error)
}
