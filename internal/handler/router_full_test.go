package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hitoshi/campusnest/internal/middleware"
	"github.com/hitoshi/campusnest/internal/onboarding"
)

// --- ミドルウェアチェーンのテスト ---

func TestNewRouter_API_NoSession_Returns401(t *testing.T) {
	router := NewRouter(newTestRouterDeps(t))

	req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	body := parseAPIErrorResponse(t, w)
	if body["code"] != "unauthorized" {
		t.Errorf("code = %v", body["code"])
	}
}

func TestNewRouter_API_SessionStoreError_FailsClosed(t *testing.T) {
	deps := newTestRouterDeps(t)
	deps.SessionResolver = &mockSessionResolver{err: errors.New("db down")}
	router := NewRouter(deps)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(http.MethodGet, "/api/notifications", ""))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestNewRouter_API_MutationWithoutCSRF_Returns403(t *testing.T) {
	router := NewRouter(newTestRouterDeps(t))

	req := httptest.NewRequest(http.MethodPost, "/api/notifications", strings.NewReader(`{"ids":["n1"]}`))
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "valid-session"})
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestNewRouter_SecurityHeaders(t *testing.T) {
	router := NewRouter(newTestRouterDeps(t))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}

func TestNewRouter_CORS_Preflight(t *testing.T) {
	deps := newTestRouterDeps(t)
	deps.CORSAllowedOrigin = "http://localhost:3000"
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodOptions, "/api/notifications", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

// --- ページゲートのテスト ---

func TestNewRouter_Gate_RedirectsAnonymousToSignIn(t *testing.T) {
	router := NewRouter(newTestRouterDeps(t))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dashboard?tab=saved", nil))

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
	}
	want := "/sign-in?return_to=%2Fdashboard%3Ftab%3Dsaved"
	if loc := w.Header().Get("Location"); loc != want {
		t.Errorf("Location = %q, want %q", loc, want)
	}
}

func TestNewRouter_Gate_PublicPathPassesThrough(t *testing.T) {
	router := NewRouter(newTestRouterDeps(t))

	for _, path := range []string{"/", "/map", "/map/austin", "/sign-in", "/error"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want %d", path, w.Code, http.StatusOK)
		}
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/mapping", nil))
	if w.Code != http.StatusFound {
		t.Errorf("/mapping: status = %d, want %d", w.Code, http.StatusFound)
	}
}

func TestNewRouter_Gate_WritesOnboardingCookie(t *testing.T) {
	deps := newTestRouterDeps(t)
	checker := &mockOnboardingChecker{onboarded: true}
	deps.OnboardingChecker = checker
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "valid-session"})
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	c := findCookie(w.Result(), onboarding.CookieName)
	if c == nil || c.Value != "true:user-test-1" {
		t.Errorf("expected onboarding cookie, got %+v", c)
	}
	if checker.calls != 1 {
		t.Errorf("checker calls = %d, want 1", checker.calls)
	}
}

func TestNewRouter_Gate_TrueCookieSkipsLookup(t *testing.T) {
	deps := newTestRouterDeps(t)
	checker := &mockOnboardingChecker{}
	deps.OnboardingChecker = checker
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "valid-session"})
	req.AddCookie(&http.Cookie{Name: onboarding.CookieName, Value: "true:user-test-1"})
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if checker.calls != 0 {
		t.Errorf("checker calls = %d, want 0", checker.calls)
	}
	if c := findCookie(w.Result(), onboarding.CookieName); c != nil {
		t.Errorf("true cookie should not be rewritten, got %+v", c)
	}
}

func TestNewRouter_ServesFrontendDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>campusnest</h1>"), 0o644); err != nil {
		t.Fatal(err)
	}
	deps := newTestRouterDeps(t)
	deps.FrontendDir = dir
	router := NewRouter(deps)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "campusnest") {
		t.Errorf("status = %d body = %q", w.Code, w.Body.String())
	}
}
