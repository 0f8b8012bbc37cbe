package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/campusnest/internal/auth"
	"github.com/hitoshi/campusnest/internal/middleware"
	"github.com/hitoshi/campusnest/internal/model"
	"github.com/hitoshi/campusnest/internal/onboarding"
)

func newTestAuthHandler(svc AuthServiceInterface) *AuthHandler {
	return NewAuthHandler(svc, &mockOnboardingCookies{}, AuthHandlerConfig{
		SessionCookie: middleware.SessionCookieConfig{MaxAge: 86400},
	})
}

func TestAuthHandler_Login_RedirectsToOAuthURL(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{})

	req := httptest.NewRequest(http.MethodGet, "/auth/google/login", nil)
	w := httptest.NewRecorder()

	h.Login(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusTemporaryRedirect)
	}

	location := resp.Header.Get("Location")
	if !strings.Contains(location, "accounts.google.com") {
		t.Errorf("Location = %q, should contain google oauth URL", location)
	}

	stateCookie := findCookie(resp, "oauth_state")
	if stateCookie == nil || stateCookie.Value == "" {
		t.Fatal("expected oauth_state cookie")
	}
	if !strings.Contains(location, "state="+stateCookie.Value) {
		t.Errorf("Location %q does not carry the state cookie value", location)
	}
	if !stateCookie.HttpOnly {
		t.Error("oauth_state cookie should be HttpOnly")
	}
}

func TestAuthHandler_Login_RemembersSafeReturnTo(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{})

	req := httptest.NewRequest(http.MethodGet, "/auth/google/login?return_to="+url.QueryEscape("/messages?tab=1"), nil)
	w := httptest.NewRecorder()

	h.Login(w, req)

	c := findCookie(w.Result(), "oauth_return_to")
	if c == nil {
		t.Fatal("expected oauth_return_to cookie")
	}
	if v, _ := url.QueryUnescape(c.Value); v != "/messages?tab=1" {
		t.Errorf("return_to cookie = %q, want %q", v, "/messages?tab=1")
	}
}

func TestAuthHandler_Login_IgnoresUnsafeReturnTo(t *testing.T) {
	for _, rt := range []string{"https://evil.example.com", "//evil.example.com", "relative", "/\\evil"} {
		h := newTestAuthHandler(&mockAuthService{})
		req := httptest.NewRequest(http.MethodGet, "/auth/google/login?return_to="+url.QueryEscape(rt), nil)
		w := httptest.NewRecorder()

		h.Login(w, req)

		if c := findCookie(w.Result(), "oauth_return_to"); c != nil {
			t.Errorf("return_to %q should not be remembered", rt)
		}
	}
}

func TestAuthHandler_Callback_Success_SetsCookieAndRedirects(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (*model.Session, error) {
			if code != "test-code" {
				t.Errorf("code = %q, want %q", code, "test-code")
			}
			return &model.Session{
				ID:        "session-id-abc",
				UserID:    "user-id-123",
				ExpiresAt: time.Now().Add(24 * time.Hour),
			}, nil
		},
	}
	h := newTestAuthHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=test-code&state=test-state", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "test-state"})
	req.AddCookie(&http.Cookie{Name: "oauth_return_to", Value: url.QueryEscape("/properties/new")})
	w := httptest.NewRecorder()

	h.Callback(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	if loc := resp.Header.Get("Location"); loc != "/properties/new" {
		t.Errorf("Location = %q, want %q", loc, "/properties/new")
	}

	sessionCookie := findCookie(resp, middleware.SessionCookieName)
	if sessionCookie == nil {
		t.Fatal("expected session_id cookie to be set")
	}
	if sessionCookie.Value != "session-id-abc" {
		t.Errorf("session cookie value = %q, want %q", sessionCookie.Value, "session-id-abc")
	}
	if !sessionCookie.HttpOnly {
		t.Error("session cookie should be HttpOnly")
	}
}

func TestAuthHandler_Callback_DefaultsToRoot(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (*model.Session, error) {
			return &model.Session{ID: "s1", UserID: "u1"}, nil
		},
	}
	h := newTestAuthHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=c&state=s", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "s"})
	w := httptest.NewRecorder()

	h.Callback(w, req)

	if loc := w.Result().Header.Get("Location"); loc != "/" {
		t.Errorf("Location = %q, want %q", loc, "/")
	}
}

func TestAuthHandler_Callback_StateMismatch_RedirectsToError(t *testing.T) {
	called := false
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (*model.Session, error) {
			called = true
			return nil, nil
		},
	}
	h := newTestAuthHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=c&state=wrong", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "expected"})
	w := httptest.NewRecorder()

	h.Callback(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	if loc := resp.Header.Get("Location"); loc != "/error?reason=invalid_state" {
		t.Errorf("Location = %q", loc)
	}
	if called {
		t.Error("HandleCallback should not be called on state mismatch")
	}
}

func TestAuthHandler_Callback_MissingCode(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{})

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?state=s", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "s"})
	w := httptest.NewRecorder()

	h.Callback(w, req)

	if loc := w.Result().Header.Get("Location"); loc != "/error?reason=missing_code" {
		t.Errorf("Location = %q", loc)
	}
}

func TestAuthHandler_Callback_ServiceError(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (*model.Session, error) {
			return nil, errors.New("db down")
		},
	}
	h := newTestAuthHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=c&state=s", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "s"})
	w := httptest.NewRecorder()

	h.Callback(w, req)

	resp := w.Result()
	if loc := resp.Header.Get("Location"); loc != "/error?reason=auth_failed" {
		t.Errorf("Location = %q", loc)
	}
	if c := findCookie(resp, middleware.SessionCookieName); c != nil {
		t.Error("session cookie should not be set on failure")
	}
}

func TestAuthHandler_Logout_ClearsCookies(t *testing.T) {
	var gotSessionID string
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context, sessionID string) error {
			gotSessionID = sessionID
			return nil
		},
	}
	h := newTestAuthHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "session-to-delete"})
	w := httptest.NewRecorder()

	h.Logout(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if gotSessionID != "session-to-delete" {
		t.Errorf("Logout sessionID = %q, want %q", gotSessionID, "session-to-delete")
	}

	for _, name := range []string{middleware.SessionCookieName, onboarding.CookieName} {
		c := findCookie(resp, name)
		if c == nil {
			t.Fatalf("expected %s cookie to be cleared", name)
		}
		if c.MaxAge >= 0 {
			t.Errorf("%s MaxAge = %d, want negative", name, c.MaxAge)
		}
	}

	var body map[string]bool
	decodeBody(t, w, &body)
	if !body["success"] {
		t.Error("success should be true")
	}
}

func TestAuthHandler_Logout_NoSession_ReturnsBadRequest(t *testing.T) {
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context, sessionID string) error {
			if sessionID != "" {
				t.Errorf("sessionID = %q, want empty", sessionID)
			}
			return model.NewValidationError(model.ErrCodeNoSession, "セッションがありません。")
		},
	}
	h := newTestAuthHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	w := httptest.NewRecorder()

	h.Logout(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	body := parseAPIErrorResponse(t, w)
	if body["code"] != model.ErrCodeNoSession {
		t.Errorf("code = %v, want %q", body["code"], model.ErrCodeNoSession)
	}
}

func TestAuthHandler_User_ReturnsMetadata(t *testing.T) {
	landlord := model.UserTypeLandlord
	svc := &mockAuthService{
		getCurrentUserFn: func(ctx context.Context, userID string) (*model.User, error) {
			return &model.User{
				ID:        userID,
				Email:     "test@example.com",
				Name:      "Test User",
				Username:  strPtr("tester"),
				UserType:  &landlord,
				Onboarded: true,
			}, nil
		},
	}
	h := newTestAuthHandler(svc)

	req := withUserID(httptest.NewRequest(http.MethodGet, "/api/auth/user", nil), "user-123")
	w := httptest.NewRecorder()

	h.User(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body struct {
		ID       string `json:"id"`
		Email    string `json:"email"`
		Metadata struct {
			Name      string `json:"name"`
			Username  string `json:"username"`
			UserType  string `json:"user_type"`
			Onboarded bool   `json:"onboarded"`
		} `json:"metadata"`
	}
	decodeBody(t, w, &body)

	if body.ID != "user-123" || body.Email != "test@example.com" {
		t.Errorf("unexpected identity: %+v", body)
	}
	if body.Metadata.Username != "tester" || body.Metadata.UserType != "landlord" || !body.Metadata.Onboarded {
		t.Errorf("unexpected metadata: %+v", body.Metadata)
	}
}

func TestAuthHandler_User_NoUserID_ReturnsUnauthorized(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{})

	req := httptest.NewRequest(http.MethodGet, "/api/auth/user", nil)
	w := httptest.NewRecorder()

	h.User(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestIsSafeReturnTo(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"/", true},
		{"/dashboard?x=1", true},
		{"", false},
		{"dashboard", false},
		{"//evil.com", false},
		{"/\\evil.com", false},
		{"https://evil.com/", false},
	}
	for _, tt := range tests {
		if got := isSafeReturnTo(tt.in); got != tt.want {
			t.Errorf("isSafeReturnTo(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestAuthHandler_Callback_RejectionReasons(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"unverified email", fmt.Errorf("exchange: %w", auth.ErrEmailNotVerified), "/error?reason=email_not_verified"},
		{"domain not allowed", fmt.Errorf("exchange: %w", auth.ErrDomainNotAllowed), "/error?reason=domain_not_allowed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestAuthHandler(&mockAuthService{
				handleCallbackFn: func(ctx context.Context, code string) (*model.Session, error) {
					return nil, tt.err
				},
			})

			req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=c&state=s", nil)
			req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "s"})
			w := httptest.NewRecorder()

			h.Callback(w, req)

			if loc := w.Result().Header.Get("Location"); loc != tt.want {
				t.Errorf("Location = %q, want %q", loc, tt.want)
			}
		})
	}
}
