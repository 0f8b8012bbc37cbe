package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/campusnest/internal/middleware"
	"github.com/hitoshi/campusnest/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// Withdraw はユーザーの退会処理を実行する。
	// customers、user_roles、会話の参加情報、宛先指定の通知はCASCADE削除される。
	Withdraw(ctx context.Context, userID string) error
	// Search はユーザー名・氏名で他のユーザーを検索する。
	Search(ctx context.Context, callerID, query string) ([]model.UserSummary, error)
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service       UserServiceInterface
	cookies       OnboardingCookieIssuer
	sessionCookie middleware.SessionCookieConfig
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, cookies OnboardingCookieIssuer, sessionCookie middleware.SessionCookieConfig) *UserHandler {
	return &UserHandler{
		service:       service,
		cookies:       cookies,
		sessionCookie: sessionCookie,
	}
}

// Withdraw はユーザーの退会処理を実行し、セッションCookieとオンボーディングCookieを削除する。
// DELETE /api/users/me
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Withdraw(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	http.SetCookie(w, middleware.ClearSessionCookie(h.sessionCookie))
	if h.cookies != nil {
		http.SetCookie(w, h.cookies.ClearCookie())
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search はユーザーを検索する。呼び出し元自身は含めない。
// GET /api/users/search?q=
func (h *UserHandler) Search(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	users, err := h.service.Search(r.Context(), userID, r.URL.Query().Get("q"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserSummaryResponses(users))
}
