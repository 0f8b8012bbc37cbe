// Package model はドメインモデルを定義する。
package model

import "time"

// UserType は利用者区分を表す。
type UserType string

const (
	UserTypeRenter   UserType = "renter"
	UserTypeLandlord UserType = "landlord"
)

// Valid はUserTypeが定義済みの値かどうかを返す。
func (t UserType) Valid() bool {
	return t == UserTypeRenter || t == UserTypeLandlord
}

// User はサービス利用ユーザーを表す。
// サインアップ時に作成され、オンボーディング完了時にプロフィールが埋まる。
type User struct {
	ID          string
	Email       string
	Name        string
	Username    *string
	FirstName   *string
	LastName    *string
	DateOfBirth *time.Time
	UserType    *UserType
	Phone       *string
	University  *string
	Bio         *string
	Onboarded   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NotificationPreferences は通知設定を表す。
type NotificationPreferences struct {
	Email     bool
	SMS       bool
	Marketing bool
}

// UserProfile はオンボーディング完了時に保存するプロフィール。
type UserProfile struct {
	UserID        string
	Username      string
	FirstName     string
	LastName      string
	DateOfBirth   time.Time
	UserType      UserType
	Phone         string
	University    string
	Bio           string
	Notifications NotificationPreferences
}

// Customer はUserの個人情報拡張（1:1）。
// オンボーディング完了時にのみ作成される。
type Customer struct {
	UserID      string
	FirstName   string
	LastName    string
	DateOfBirth time.Time
	AddressLine string
	City        string
	State       string
	PostalCode  string
	CreatedAt   time.Time
}

// UserSummary は検索結果や参加者一覧で使う最小限のユーザー情報。
type UserSummary struct {
	ID        string
	Username  string
	FirstName string
	LastName  string
}

// Identity は外部IdPとの紐付け情報を表す。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
// ExpiresAtを過ぎてもRefreshExpiresAtまでは延長できる。
type Session struct {
	ID               string
	UserID           string
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
	CreatedAt        time.Time
}
