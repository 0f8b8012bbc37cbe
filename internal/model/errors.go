package model

import (
	"fmt"
	"strings"
)

// ErrorKind はAPIErrorの分類。HTTPステータスへの対応はhandler層が行う。
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindUnauthorized ErrorKind = "unauthorized"
	KindForbidden    ErrorKind = "forbidden"
	KindNotFound     ErrorKind = "not_found"
	KindConflict     ErrorKind = "conflict"
	KindRateLimited  ErrorKind = "rate_limited"
	KindInternal     ErrorKind = "internal"
	KindUnavailable  ErrorKind = "unavailable"
)

// APIError は統一エラーフォーマットを表す。
// Codeは機械可読な理由、Fieldsは問題のあるフィールド名。
type APIError struct {
	Kind     ErrorKind
	Code     string   // エラーコード（例: missing_fields）
	Message  string   // エラーメッセージ
	Category string   // カテゴリ: auth, validation, messaging, listing, system
	Action   string   // ユーザー向け対処方法
	Fields   []string // 対象フィールド（任意）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("[%s] %s (%s)", e.Code, e.Message, strings.Join(e.Fields, ", "))
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeMissingFields         = "missing_fields"
	ErrCodeInvalidUsernameFormat = "invalid_username_format"
	ErrCodeInvalidUserType       = "invalid_user_type"
	ErrCodeInvalidDateOfBirth    = "invalid_date_of_birth"
	ErrCodeUnderage              = "underage"
	ErrCodeUsernameTaken         = "username_taken"

	ErrCodeMissingSocketOrChannel = "missing_socket_or_channel"
	ErrCodeInvalidSocketID        = "invalid_socket_id"
	ErrCodeChannelForbidden       = "channel_forbidden"
	ErrCodeRealtimeUnavailable    = "realtime_unavailable"

	ErrCodeInvalidConversationType      = "invalid_conversation_type"
	ErrCodeInvalidParticipants          = "invalid_participants"
	ErrCodeDirectRequiresOneParticipant = "direct_requires_one_participant"
	ErrCodeGroupRequirementsNotMet      = "group_requirements_not_met"
	ErrCodeConversationNotFound         = "conversation_not_found"
	ErrCodeNotParticipant               = "not_participant"
	ErrCodeEmptyMessage                 = "empty_message"
	ErrCodeInvalidMessageType           = "invalid_message_type"

	ErrCodePropertyNotFound   = "property_not_found"
	ErrCodeNotPropertyOwner   = "not_property_owner"
	ErrCodeLandlordRequired   = "landlord_required"
	ErrCodeUnknownStep        = "unknown_step"
	ErrCodeInvalidFieldValue  = "invalid_field_value"
	ErrCodeListingIncomplete  = "listing_incomplete"
	ErrCodeInvalidImage       = "invalid_image"
	ErrCodePhotoFetchFailed   = "photo_fetch_failed"
	ErrCodeStorageUnavailable = "storage_unavailable"

	ErrCodeMissingIDs = "missing_ids"

	ErrCodeCSRFInvalid        = "csrf_token_invalid"
	ErrCodeRateLimited        = "rate_limit_exceeded"
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeNoSession          = "no_session"
	ErrCodeUserNotFound       = "user_not_found"
	ErrCodeInvalidRequest     = "invalid_request"
	ErrCodeInternal           = "internal_error"
	ErrCodeServiceUnavailable = "service_unavailable"
)

// NewValidationError はバリデーションエラーを生成する。
func NewValidationError(code, message string, fields ...string) *APIError {
	return &APIError{
		Kind:     KindValidation,
		Code:     code,
		Message:  message,
		Category: "validation",
		Action:   "入力内容を確認してください。",
		Fields:   fields,
	}
}

// NewMissingFieldsError は必須項目の欠落エラーを生成する。
func NewMissingFieldsError(fields []string) *APIError {
	return NewValidationError(ErrCodeMissingFields,
		fmt.Sprintf("必須項目が入力されていません: %s", strings.Join(fields, ", ")),
		fields...)
}

// NewUsernameTakenError はユーザー名の重複エラーを生成する。
func NewUsernameTakenError(username string) *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeUsernameTaken,
		Message:  fmt.Sprintf("ユーザー名は既に使用されています: %s", username),
		Category: "validation",
		Action:   "別のユーザー名を指定してください。",
		Fields:   []string{"username"},
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Kind:     KindUnauthorized,
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError(code, message string) *APIError {
	return &APIError{
		Kind:     KindForbidden,
		Code:     code,
		Message:  message,
		Category: "auth",
		Action:   "アクセス権限を確認してください。",
	}
}

// NewNotFoundError はリソース未検出エラーを生成する。
func NewNotFoundError(code, message string) *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     code,
		Message:  message,
		Category: "validation",
		Action:   "IDを確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewPropertyNotFoundError は物件未検出エラーを生成する。
func NewPropertyNotFoundError(propertyID string) *APIError {
	return NewNotFoundError(ErrCodePropertyNotFound,
		fmt.Sprintf("指定された物件が見つかりません: %s", propertyID))
}

// NewConversationNotFoundError は会話未検出エラーを生成する。
func NewConversationNotFoundError(conversationID string) *APIError {
	return NewNotFoundError(ErrCodeConversationNotFound,
		fmt.Sprintf("指定された会話が見つかりません: %s", conversationID))
}

// NewServiceUnavailableError はデータストア接続障害エラーを生成する。
func NewServiceUnavailableError() *APIError {
	return &APIError{
		Kind:     KindUnavailable,
		Code:     ErrCodeServiceUnavailable,
		Message:  "データベースに接続できません。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Kind:     KindInternal,
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Kind:     KindRateLimited,
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterの秒数待ってから再度お試しください。",
	}
}
