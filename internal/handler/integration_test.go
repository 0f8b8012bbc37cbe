package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/campusnest/internal/messaging"
	"github.com/hitoshi/campusnest/internal/middleware"
	"github.com/hitoshi/campusnest/internal/model"
	"github.com/hitoshi/campusnest/internal/onboarding"
)

// --- 統合テスト用のステートフルモック ---

// integrationState は統合テスト用の共有状態を保持する。
type integrationState struct {
	mu            sync.Mutex
	sessions      map[string]*model.Session
	onboarded     map[string]bool
	conversations map[string][]string // conversationID -> participant IDs
	messages      map[string][]*model.Message
}

func newIntegrationState() *integrationState {
	return &integrationState{
		sessions:      make(map[string]*model.Session),
		onboarded:     make(map[string]bool),
		conversations: make(map[string][]string),
		messages:      make(map[string][]*model.Message),
	}
}

func (s *integrationState) ResolveSession(ctx context.Context, sessionID string) (*model.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[sessionID], false, nil
}

func (s *integrationState) Check(ctx context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onboarded[userID], nil
}

func (s *integrationState) isParticipant(convID, userID string) bool {
	for _, id := range s.conversations[convID] {
		if id == userID {
			return true
		}
	}
	return false
}

// --- 統合テスト用ルーター構築ヘルパー ---

func createIntegrationRouter(t *testing.T, state *integrationState) http.Handler {
	deps := newTestRouterDeps(t)
	deps.SessionResolver = state
	deps.OnboardingChecker = state

	deps.AuthService = &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (*model.Session, error) {
			state.mu.Lock()
			defer state.mu.Unlock()
			session := &model.Session{
				ID:        "session-" + code,
				UserID:    "user-" + code,
				ExpiresAt: time.Now().Add(24 * time.Hour),
			}
			state.sessions[session.ID] = session
			return session, nil
		},
		logoutFn: func(ctx context.Context, sessionID string) error {
			state.mu.Lock()
			defer state.mu.Unlock()
			delete(state.sessions, sessionID)
			return nil
		},
		getCurrentUserFn: func(ctx context.Context, userID string) (*model.User, error) {
			return &model.User{ID: userID, Email: userID + "@example.com"}, nil
		},
	}

	deps.OnboardingService = &mockOnboardingService{
		statusFn: func(ctx context.Context, userID string) (bool, error) {
			return state.Check(ctx, userID)
		},
		completeFn: func(ctx context.Context, userID string, req onboarding.CompleteRequest) (*onboarding.CompletedUser, error) {
			state.mu.Lock()
			defer state.mu.Unlock()
			state.onboarded[userID] = true
			return &onboarding.CompletedUser{ID: userID, Username: req.Username, UserType: model.UserType(req.UserType)}, nil
		},
	}

	deps.MessagingService = &mockMessagingService{
		createConversationFn: func(ctx context.Context, callerID string, req messaging.CreateConversationRequest) (*messaging.CreatedConversation, error) {
			state.mu.Lock()
			defer state.mu.Unlock()
			convID := "conv-" + callerID
			state.conversations[convID] = append([]string{callerID}, req.ParticipantIDs...)
			return &messaging.CreatedConversation{
				Conversation:     &model.Conversation{ID: convID, Type: model.ConversationDirect, CreatedBy: callerID},
				ParticipantCount: len(state.conversations[convID]),
			}, nil
		},
		sendMessageFn: func(ctx context.Context, callerID, convID string, req messaging.SendMessageRequest) (*model.Message, error) {
			state.mu.Lock()
			defer state.mu.Unlock()
			if !state.isParticipant(convID, callerID) {
				return nil, model.NewForbiddenError(model.ErrCodeNotParticipant, "この会話の参加者ではありません。")
			}
			msg := &model.Message{ID: "m" + callerID, ConversationID: convID, SenderID: callerID, Content: req.Content, Type: model.MessageText}
			state.messages[convID] = append([]*model.Message{msg}, state.messages[convID]...)
			return msg, nil
		},
		listMessagesFn: func(ctx context.Context, callerID, convID string, before time.Time, limit int) ([]*model.Message, error) {
			state.mu.Lock()
			defer state.mu.Unlock()
			if !state.isParticipant(convID, callerID) {
				return nil, model.NewForbiddenError(model.ErrCodeNotParticipant, "この会話の参加者ではありません。")
			}
			return state.messages[convID], nil
		},
	}

	return NewRouter(deps)
}

// client は統合テスト用にCookieを保持してリクエストを送る。
type client struct {
	t       *testing.T
	router  http.Handler
	cookies map[string]*http.Cookie
}

func newClient(t *testing.T, router http.Handler) *client {
	return &client{t: t, router: router, cookies: make(map[string]*http.Cookie)}
}

func (c *client) do(method, path, body string) *httptest.ResponseRecorder {
	c.t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}
	if csrf, ok := c.cookies["csrf_token"]; ok {
		req.Header.Set("X-CSRF-Token", csrf.Value)
	}

	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)

	for _, ck := range w.Result().Cookies() {
		if ck.MaxAge < 0 {
			delete(c.cookies, ck.Name)
			continue
		}
		c.cookies[ck.Name] = ck
	}
	return w
}

func (c *client) signIn(code string) {
	c.t.Helper()
	c.cookies["oauth_state"] = &http.Cookie{Name: "oauth_state", Value: "st"}
	w := c.do(http.MethodGet, "/auth/callback?state=st&code="+code, "")
	if w.Code != http.StatusFound {
		c.t.Fatalf("callback status = %d", w.Code)
	}
	// 状態変更リクエスト用にCSRFトークンCookieを取得する
	if w := c.do(http.MethodGet, "/api/csrf-token", ""); w.Code != http.StatusOK {
		c.t.Fatalf("csrf-token status = %d", w.Code)
	}
}

// --- 統合テスト ---

func TestIntegration_SignInOnboardAndMessage(t *testing.T) {
	state := newIntegrationState()
	router := createIntegrationRouter(t, state)

	alice := newClient(t, router)
	alice.signIn("alice")

	// オンボーディング前はゲートがfalseのCookieを書く
	if w := alice.do(http.MethodGet, "/dashboard", ""); w.Code != http.StatusOK {
		t.Fatalf("dashboard status = %d", w.Code)
	}
	if c := alice.cookies[onboarding.CookieName]; c == nil || c.Value != "false:user-alice" {
		t.Fatalf("onboarding cookie = %+v, want false", c)
	}

	w := alice.do(http.MethodPost, "/api/onboarding/complete",
		`{"username":"alice","firstName":"Alice","lastName":"A","dateOfBirth":"2000-01-01","userType":"renter"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("complete status = %d body=%s", w.Code, w.Body.String())
	}
	if c := alice.cookies[onboarding.CookieName]; c == nil || c.Value != "true:user-alice" {
		t.Fatalf("onboarding cookie = %+v, want true", c)
	}

	w = alice.do(http.MethodPost, "/api/messaging/conversation", `{"conversation_type":"direct","participant_ids":["user-bob"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("create conversation status = %d body=%s", w.Code, w.Body.String())
	}

	w = alice.do(http.MethodPost, "/api/messaging/conversation/conv-user-alice/messages", `{"content":"hi bob"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("send status = %d body=%s", w.Code, w.Body.String())
	}

	bob := newClient(t, router)
	bob.signIn("bob")
	w = bob.do(http.MethodGet, "/api/messaging/conversation/conv-user-alice/messages", "")
	if w.Code != http.StatusOK {
		t.Fatalf("bob list status = %d", w.Code)
	}
	var resp struct {
		Messages []messaging.MessageEvent `json:"messages"`
	}
	decodeBody(t, w, &resp)
	if len(resp.Messages) != 1 || resp.Messages[0].Content != "hi bob" {
		t.Errorf("unexpected messages: %+v", resp.Messages)
	}

	carol := newClient(t, router)
	carol.signIn("carol")
	if w := carol.do(http.MethodGet, "/api/messaging/conversation/conv-user-alice/messages", ""); w.Code != http.StatusForbidden {
		t.Errorf("non-participant status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestIntegration_LogoutEndsSession(t *testing.T) {
	state := newIntegrationState()
	router := createIntegrationRouter(t, state)

	c := newClient(t, router)
	c.signIn("dave")

	if w := c.do(http.MethodGet, "/api/auth/user", ""); w.Code != http.StatusOK {
		t.Fatalf("user status = %d", w.Code)
	}

	sessionCookie := c.cookies[middleware.SessionCookieName]
	if w := c.do(http.MethodPost, "/api/auth/logout", ""); w.Code != http.StatusOK {
		t.Fatalf("logout status = %d body=%s", w.Code, w.Body.String())
	}
	if _, ok := c.cookies[middleware.SessionCookieName]; ok {
		t.Error("session cookie should be cleared after logout")
	}

	// 古いCookieを再送しても認証されない
	c.cookies[middleware.SessionCookieName] = sessionCookie
	if w := c.do(http.MethodGet, "/api/auth/user", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("status after logout = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if w := c.do(http.MethodGet, "/dashboard", ""); w.Code != http.StatusFound {
		t.Errorf("page status after logout = %d, want %d", w.Code, http.StatusFound)
	}
}
