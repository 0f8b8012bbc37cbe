// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/campusnest/internal/model"
)

// SessionCookieName はセッションIDを保持するCookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
	userIDContextKey = contextKey("user_id")
	// onboardedContextKey はオンボーディング完了フラグを格納するためのキー。
	onboardedContextKey = contextKey("onboarded")
)

// SessionResolver はセッションIDの解決に必要なインターフェース。
// refreshedがtrueの場合、有効期限が延長されたためCookieを再発行する。
type SessionResolver interface {
	ResolveSession(ctx context.Context, sessionID string) (session *model.Session, refreshed bool, err error)
}

// SessionCookieConfig はセッションCookieの属性。
type SessionCookieConfig struct {
	MaxAge int // 秒
	Secure bool
	Domain string
}

// NewSessionCookie はセッションCookieを生成する。
func NewSessionCookie(cfg SessionCookieConfig, sessionID string) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   cfg.Domain,
		MaxAge:   cfg.MaxAge,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearSessionCookie はセッションCookieを削除するCookieを生成する。
func ClearSessionCookie(cfg SessionCookieConfig) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   cfg.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// resolveRequestSession はCookieからセッションを解決する。
// ストアのエラーは未認証として扱う。
func resolveRequestSession(w http.ResponseWriter, r *http.Request, resolver SessionResolver, cfg SessionCookieConfig) *model.Session {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}

	session, refreshed, err := resolver.ResolveSession(r.Context(), cookie.Value)
	if err != nil {
		slog.Error("failed to resolve session",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if session == nil {
		return nil
	}

	if refreshed {
		http.SetCookie(w, NewSessionCookie(cfg, session.ID))
	}
	return session
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み取り、
// 有効性を検証するミドルウェアを返す。
// 認証済みユーザーIDをリクエストコンテキストに注入する。
// 未認証リクエストには401のJSONエラーを返す。
func NewSessionMiddleware(resolver SessionResolver, cfg SessionCookieConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := resolveRequestSession(w, r, resolver, cfg)
			if session == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			ctx := ContextWithUserID(r.Context(), session.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// ロギングミドルウェアの配下であれば、ログ出力用にも記録する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	if st, ok := ctx.Value(requestStateContextKey).(*requestState); ok {
		st.userID = userID
	}
	return context.WithValue(ctx, userIDContextKey, userID)
}

// OnboardedFromContext はゲートミドルウェアが判定したオンボーディング状態を返す。
func OnboardedFromContext(ctx context.Context) bool {
	v, _ := ctx.Value(onboardedContextKey).(bool)
	return v
}

// ContextWithOnboarded はコンテキストにオンボーディング状態を注入する。
func ContextWithOnboarded(ctx context.Context, onboarded bool) context.Context {
	return context.WithValue(ctx, onboardedContextKey, onboarded)
}
