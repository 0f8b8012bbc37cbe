package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/campusnest/internal/auth"
	"github.com/hitoshi/campusnest/internal/middleware"
	"github.com/hitoshi/campusnest/internal/model"
)

const (
	oauthStateCookie    = "oauth_state"
	oauthReturnToCookie = "oauth_return_to"
	oauthCookieMaxAge   = 600 // 10分
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
	GetCurrentUser(ctx context.Context, userID string) (*model.User, error)
}

// OnboardingCookieIssuer はオンボーディング状態Cookieの発行と削除を行う。
type OnboardingCookieIssuer interface {
	Cookie(userID string, onboarded bool) (*http.Cookie, error)
	ClearCookie() *http.Cookie
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	SessionCookie middleware.SessionCookieConfig
	ErrorPath     string // 認証失敗時のリダイレクト先（デフォルト: /error）
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	cookies OnboardingCookieIssuer
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, cookies OnboardingCookieIssuer, config AuthHandlerConfig) *AuthHandler {
	if config.ErrorPath == "" {
		config.ErrorPath = "/error"
	}
	return &AuthHandler{
		service: service,
		cookies: cookies,
		config:  config,
	}
}

// authUserResponse は現在のユーザー情報のAPIレスポンス。
type authUserResponse struct {
	ID       string           `json:"id"`
	Email    string           `json:"email"`
	Metadata authUserMetadata `json:"metadata"`
}

type authUserMetadata struct {
	Name      string          `json:"name"`
	Username  *string         `json:"username"`
	UserType  *model.UserType `json:"user_type"`
	Onboarded bool            `json:"onboarded"`
}

// Login はGoogle OAuthフローを開始する。
// GET /auth/google/login?return_to=/path
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, h.shortLivedCookie(oauthStateCookie, state))

	if returnTo := r.URL.Query().Get("return_to"); isSafeReturnTo(returnTo) {
		http.SetCookie(w, h.shortLivedCookie(oauthReturnToCookie, url.QueryEscape(returnTo)))
	}

	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// GET /auth/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch",
			slog.String("query_state", state),
		)
		http.Redirect(w, r, h.config.ErrorPath+"?reason=invalid_state", http.StatusFound)
		return
	}
	http.SetCookie(w, h.expiredCookie(oauthStateCookie))

	returnTo := "/"
	if c, err := r.Cookie(oauthReturnToCookie); err == nil {
		if v, err := url.QueryUnescape(c.Value); err == nil && isSafeReturnTo(v) {
			returnTo = v
		}
		http.SetCookie(w, h.expiredCookie(oauthReturnToCookie))
	}

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Redirect(w, r, h.config.ErrorPath+"?reason=missing_code", http.StatusFound)
		return
	}

	// 3. 認証処理
	session, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		reason := "auth_failed"
		switch {
		case errors.Is(err, auth.ErrEmailNotVerified):
			reason = "email_not_verified"
		case errors.Is(err, auth.ErrDomainNotAllowed):
			reason = "domain_not_allowed"
		}
		slog.Error("oauth callback failed",
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		http.Redirect(w, r, h.config.ErrorPath+"?reason="+reason, http.StatusFound)
		return
	}

	// 4. セッションCookieを設定してリダイレクト
	http.SetCookie(w, middleware.NewSessionCookie(h.config.SessionCookie, session.ID))
	http.Redirect(w, r, returnTo, http.StatusFound)
}

// Logout はセッションを破棄し、セッションCookieとオンボーディングCookieを削除する。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID := ""
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil {
		sessionID = cookie.Value
	}

	if err := h.service.Logout(r.Context(), sessionID); err != nil {
		handleServiceError(w, err)
		return
	}

	h.clearCookies(w)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// User は現在のログインユーザー情報を返す。
// GET /api/auth/user
func (h *AuthHandler) User(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	user, err := h.service.GetCurrentUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, authUserResponse{
		ID:    user.ID,
		Email: user.Email,
		Metadata: authUserMetadata{
			Name:      user.Name,
			Username:  user.Username,
			UserType:  user.UserType,
			Onboarded: user.Onboarded,
		},
	})
}

// clearCookies はセッションCookieとオンボーディングCookieを削除する。
func (h *AuthHandler) clearCookies(w http.ResponseWriter) {
	http.SetCookie(w, middleware.ClearSessionCookie(h.config.SessionCookie))
	if h.cookies != nil {
		http.SetCookie(w, h.cookies.ClearCookie())
	}
}

func (h *AuthHandler) shortLivedCookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   oauthCookieMaxAge,
		HttpOnly: true,
		Secure:   h.config.SessionCookie.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (h *AuthHandler) expiredCookie(name string) *http.Cookie {
	c := h.shortLivedCookie(name, "")
	c.MaxAge = -1
	return c
}

// isSafeReturnTo はreturn_toが同一オリジン内の相対パスかを返す。
func isSafeReturnTo(v string) bool {
	if v == "" || !strings.HasPrefix(v, "/") {
		return false
	}
	if strings.HasPrefix(v, "//") || strings.HasPrefix(v, "/\\") {
		return false
	}
	u, err := url.Parse(v)
	return err == nil && u.Scheme == "" && u.Host == ""
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
