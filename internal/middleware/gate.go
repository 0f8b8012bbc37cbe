package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// publicExactPaths は完全一致で公開するパス。
var publicExactPaths = []string{"/", "/favicon.ico", "/robots.txt"}

// publicPrefixes はセグメント単位の前方一致で公開するパス。
var publicPrefixes = []string{
	"/map",
	"/sign-in",
	"/sign-up",
	"/auth/callback",
	"/auth/google",
	"/error",
	"/confirm-email",
	"/assets",
}

// IsPublicPath はセッションなしでアクセスできるパスかを判定する。
// 前方一致はパスセグメント境界でのみ成立する（/mapping は /map に一致しない）。
func IsPublicPath(path string) bool {
	for _, p := range publicExactPaths {
		if path == p {
			return true
		}
	}
	for _, p := range publicPrefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// OnboardingChecker はユーザーのオンボーディング完了を判定する。
type OnboardingChecker interface {
	Check(ctx context.Context, userID string) (bool, error)
}

// OnboardingCookies はオンボーディング状態Cookieの読み書きを行う。
type OnboardingCookies interface {
	IsOnboarded(value, userID string) bool
	Cookie(userID string, onboarded bool) (*http.Cookie, error)
}

// GateConfig はページゲートの依存関係。
type GateConfig struct {
	Sessions      SessionResolver
	SessionCookie SessionCookieConfig
	Checker       OnboardingChecker
	Cookies       OnboardingCookies
	CookieName    string
	SignInPath    string
}

// NewGateMiddleware はページ遷移に対するセッション・オンボーディングゲートを返す。
// 未認証かつ非公開パスは /sign-in?return_to=... へリダイレクトする。
// 認証済みの場合はオンボーディング状態を判定してCookieに書き込み、コンテキストに注入する。
func NewGateMiddleware(cfg GateConfig) func(next http.Handler) http.Handler {
	if cfg.SignInPath == "" {
		cfg.SignInPath = "/sign-in"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := resolveRequestSession(w, r, cfg.Sessions, cfg.SessionCookie)
			if session == nil {
				if IsPublicPath(r.URL.Path) {
					next.ServeHTTP(w, r)
					return
				}
				http.Redirect(w, r, signInURL(cfg.SignInPath, r.URL), http.StatusFound)
				return
			}

			onboarded := gateOnboarded(w, r, cfg, session.UserID)

			ctx := ContextWithUserID(r.Context(), session.UserID)
			ctx = ContextWithOnboarded(ctx, onboarded)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// gateOnboarded はオンボーディング状態を判定する。
// 同一ユーザーの"true"Cookieがあれば問い合わせを省略する。
func gateOnboarded(w http.ResponseWriter, r *http.Request, cfg GateConfig, userID string) bool {
	if c, err := r.Cookie(cfg.CookieName); err == nil && cfg.Cookies.IsOnboarded(c.Value, userID) {
		return true
	}

	onboarded, err := cfg.Checker.Check(r.Context(), userID)
	if err != nil {
		slog.Error("failed to check onboarding status",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return false
	}

	cookie, err := cfg.Cookies.Cookie(userID, onboarded)
	if err != nil {
		slog.Error("failed to sign onboarding cookie",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return onboarded
	}
	http.SetCookie(w, cookie)
	return onboarded
}

// signInURL は元のパスとクエリをreturn_toに載せたサインインURLを返す。
func signInURL(signInPath string, original *url.URL) string {
	returnTo := original.Path
	if original.RawQuery != "" {
		returnTo += "?" + original.RawQuery
	}
	return signInPath + "?" + url.Values{"return_to": {returnTo}}.Encode()
}
