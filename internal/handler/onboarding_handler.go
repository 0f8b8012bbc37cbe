package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/campusnest/internal/onboarding"
)

// OnboardingServiceInterface はオンボーディングハンドラーが必要とするサービスインターフェース。
type OnboardingServiceInterface interface {
	Status(ctx context.Context, userID string) (bool, error)
	Complete(ctx context.Context, userID string, req onboarding.CompleteRequest) (*onboarding.CompletedUser, error)
}

// OnboardingCookieCodec はオンボーディング状態Cookieの読み書きを行う。
type OnboardingCookieCodec interface {
	OnboardingCookieIssuer
	IsOnboarded(value, userID string) bool
}

// OnboardingHandler はオンボーディングのHTTPハンドラー。
type OnboardingHandler struct {
	service OnboardingServiceInterface
	cookies OnboardingCookieCodec
}

// NewOnboardingHandler はOnboardingHandlerを生成する。
func NewOnboardingHandler(service OnboardingServiceInterface, cookies OnboardingCookieCodec) *OnboardingHandler {
	return &OnboardingHandler{service: service, cookies: cookies}
}

type onboardingStatusResponse struct {
	Onboarded bool `json:"onboarded"`
}

type onboardingCompleteResponse struct {
	Success bool                      `json:"success"`
	User    *onboarding.CompletedUser `json:"user"`
}

// Status はオンボーディング完了状態を返す。
// GET /api/onboarding/status
func (h *OnboardingHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	onboarded, err := h.service.Status(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, onboardingStatusResponse{Onboarded: onboarded})
}

// CheckStatus はオンボーディング完了状態を返し、状態Cookieを書き直す。
// 有効な"true"のCookieは"false"で上書きしない。
// GET /api/onboarding/check-status
func (h *OnboardingHandler) CheckStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if c, err := r.Cookie(onboarding.CookieName); err == nil && h.cookies.IsOnboarded(c.Value, userID) {
		writeJSON(w, http.StatusOK, onboardingStatusResponse{Onboarded: true})
		return
	}

	onboarded, err := h.service.Status(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.setCookie(w, userID, onboarded)
	writeJSON(w, http.StatusOK, onboardingStatusResponse{Onboarded: onboarded})
}

// Complete はプロフィールを保存してオンボーディングを完了する。
// POST /api/onboarding/complete
func (h *OnboardingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req onboarding.CompleteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.service.Complete(r.Context(), userID, req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.setCookie(w, userID, true)
	writeJSON(w, http.StatusOK, onboardingCompleteResponse{Success: true, User: user})
}

func (h *OnboardingHandler) setCookie(w http.ResponseWriter, userID string, onboarded bool) {
	cookie, err := h.cookies.Cookie(userID, onboarded)
	if err != nil {
		slog.Error("failed to issue onboarding cookie",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}
	http.SetCookie(w, cookie)
}
