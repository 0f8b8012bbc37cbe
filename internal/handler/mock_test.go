package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/campusnest/internal/listing"
	"github.com/hitoshi/campusnest/internal/messaging"
	"github.com/hitoshi/campusnest/internal/middleware"
	"github.com/hitoshi/campusnest/internal/model"
	"github.com/hitoshi/campusnest/internal/notification"
	"github.com/hitoshi/campusnest/internal/onboarding"
	"github.com/hitoshi/campusnest/internal/storage"
)

// --- モック定義 ---

type mockAuthService struct {
	getLoginURLFn    func(state string) string
	handleCallbackFn func(ctx context.Context, code string) (*model.Session, error)
	logoutFn         func(ctx context.Context, sessionID string) error
	getCurrentUserFn func(ctx context.Context, userID string) (*model.User, error)
}

func (m *mockAuthService) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return "https://accounts.google.com/o/oauth2/auth?state=" + state
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code)
	}
	return nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) GetCurrentUser(ctx context.Context, userID string) (*model.User, error) {
	if m.getCurrentUserFn != nil {
		return m.getCurrentUserFn(ctx, userID)
	}
	return nil, model.NewUserNotFoundError()
}

// mockOnboardingCookies はOnboardingCookieCodecのモック実装。
// 値"true:<userID>"を有効な完了済みトークンとして扱う。
type mockOnboardingCookies struct {
	issued []bool
}

func (m *mockOnboardingCookies) Cookie(userID string, onboarded bool) (*http.Cookie, error) {
	m.issued = append(m.issued, onboarded)
	v := "false:" + userID
	if onboarded {
		v = "true:" + userID
	}
	return &http.Cookie{Name: onboarding.CookieName, Value: v, Path: "/"}, nil
}

func (m *mockOnboardingCookies) ClearCookie() *http.Cookie {
	return &http.Cookie{Name: onboarding.CookieName, Value: "", Path: "/", MaxAge: -1}
}

func (m *mockOnboardingCookies) IsOnboarded(value, userID string) bool {
	return value == "true:"+userID
}

type mockOnboardingService struct {
	statusFn   func(ctx context.Context, userID string) (bool, error)
	completeFn func(ctx context.Context, userID string, req onboarding.CompleteRequest) (*onboarding.CompletedUser, error)
}

func (m *mockOnboardingService) Status(ctx context.Context, userID string) (bool, error) {
	if m.statusFn != nil {
		return m.statusFn(ctx, userID)
	}
	return false, nil
}

func (m *mockOnboardingService) Complete(ctx context.Context, userID string, req onboarding.CompleteRequest) (*onboarding.CompletedUser, error) {
	if m.completeFn != nil {
		return m.completeFn(ctx, userID, req)
	}
	return &onboarding.CompletedUser{ID: userID, Username: req.Username}, nil
}

type mockMessagingService struct {
	createConversationFn func(ctx context.Context, callerID string, req messaging.CreateConversationRequest) (*messaging.CreatedConversation, error)
	listConversationsFn  func(ctx context.Context, callerID string) ([]model.ConversationSummary, error)
	listMessagesFn       func(ctx context.Context, callerID, conversationID string, before time.Time, limit int) ([]*model.Message, error)
	sendMessageFn        func(ctx context.Context, callerID, conversationID string, req messaging.SendMessageRequest) (*model.Message, error)
}

func (m *mockMessagingService) CreateConversation(ctx context.Context, callerID string, req messaging.CreateConversationRequest) (*messaging.CreatedConversation, error) {
	if m.createConversationFn != nil {
		return m.createConversationFn(ctx, callerID, req)
	}
	return nil, nil
}

func (m *mockMessagingService) ListConversations(ctx context.Context, callerID string) ([]model.ConversationSummary, error) {
	if m.listConversationsFn != nil {
		return m.listConversationsFn(ctx, callerID)
	}
	return nil, nil
}

func (m *mockMessagingService) ListMessages(ctx context.Context, callerID, conversationID string, before time.Time, limit int) ([]*model.Message, error) {
	if m.listMessagesFn != nil {
		return m.listMessagesFn(ctx, callerID, conversationID, before, limit)
	}
	return nil, nil
}

func (m *mockMessagingService) SendMessage(ctx context.Context, callerID, conversationID string, req messaging.SendMessageRequest) (*model.Message, error) {
	if m.sendMessageFn != nil {
		return m.sendMessageFn(ctx, callerID, conversationID, req)
	}
	return nil, nil
}

type mockChannelAuthorizer struct {
	authorizeFn func(ctx context.Context, callerID, socketID, channelName string) ([]byte, error)
}

func (m *mockChannelAuthorizer) Authorize(ctx context.Context, callerID, socketID, channelName string) ([]byte, error) {
	if m.authorizeFn != nil {
		return m.authorizeFn(ctx, callerID, socketID, channelName)
	}
	return []byte(`{"auth":"key:sig"}`), nil
}

type mockListingService struct {
	createDraftFn  func(ctx context.Context, callerID string) (*model.Property, error)
	getFn          func(ctx context.Context, callerID, propertyID string) (*listing.PropertyDetail, error)
	publishFn      func(ctx context.Context, callerID, propertyID string) (*model.Property, error)
	loadStepFn     func(ctx context.Context, callerID, propertyID, step string) (map[string]interface{}, error)
	saveStepFn     func(ctx context.Context, callerID, propertyID, step string, raw map[string]interface{}, trigger string) error
	enqueueDraftFn func(ctx context.Context, callerID, propertyID, step string, raw map[string]interface{}) error
	flushDraftFn   func(ctx context.Context, callerID, propertyID string) error
	uploadPhotoFn  func(ctx context.Context, callerID, propertyID string, r io.Reader) (*model.PropertyPhoto, error)
	importPhotoFn  func(ctx context.Context, callerID, propertyID, rawURL string) (*model.PropertyPhoto, error)
	searchFn       func(ctx context.Context, query string) ([]model.PropertySummary, error)
}

func (m *mockListingService) CreateDraft(ctx context.Context, callerID string) (*model.Property, error) {
	if m.createDraftFn != nil {
		return m.createDraftFn(ctx, callerID)
	}
	return &model.Property{ID: "prop-1", LandlordID: callerID, Status: model.PropertyDraft}, nil
}

func (m *mockListingService) Get(ctx context.Context, callerID, propertyID string) (*listing.PropertyDetail, error) {
	if m.getFn != nil {
		return m.getFn(ctx, callerID, propertyID)
	}
	return &listing.PropertyDetail{Property: &model.Property{ID: propertyID, LandlordID: callerID}}, nil
}

func (m *mockListingService) Publish(ctx context.Context, callerID, propertyID string) (*model.Property, error) {
	if m.publishFn != nil {
		return m.publishFn(ctx, callerID, propertyID)
	}
	return &model.Property{ID: propertyID, LandlordID: callerID, Status: model.PropertyPublished}, nil
}

func (m *mockListingService) LoadStep(ctx context.Context, callerID, propertyID, step string) (map[string]interface{}, error) {
	if m.loadStepFn != nil {
		return m.loadStepFn(ctx, callerID, propertyID, step)
	}
	return map[string]interface{}{}, nil
}

func (m *mockListingService) SaveStep(ctx context.Context, callerID, propertyID, step string, raw map[string]interface{}, trigger string) error {
	if m.saveStepFn != nil {
		return m.saveStepFn(ctx, callerID, propertyID, step, raw, trigger)
	}
	return nil
}

func (m *mockListingService) EnqueueDraft(ctx context.Context, callerID, propertyID, step string, raw map[string]interface{}) error {
	if m.enqueueDraftFn != nil {
		return m.enqueueDraftFn(ctx, callerID, propertyID, step, raw)
	}
	return nil
}

func (m *mockListingService) FlushDraft(ctx context.Context, callerID, propertyID string) error {
	if m.flushDraftFn != nil {
		return m.flushDraftFn(ctx, callerID, propertyID)
	}
	return nil
}

func (m *mockListingService) UploadPhoto(ctx context.Context, callerID, propertyID string, r io.Reader) (*model.PropertyPhoto, error) {
	if m.uploadPhotoFn != nil {
		return m.uploadPhotoFn(ctx, callerID, propertyID, r)
	}
	return nil, nil
}

func (m *mockListingService) ImportPhoto(ctx context.Context, callerID, propertyID, rawURL string) (*model.PropertyPhoto, error) {
	if m.importPhotoFn != nil {
		return m.importPhotoFn(ctx, callerID, propertyID, rawURL)
	}
	return nil, nil
}

func (m *mockListingService) Search(ctx context.Context, query string) ([]model.PropertySummary, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, query)
	}
	return []model.PropertySummary{}, nil
}

type mockNotificationService struct {
	listFn     func(ctx context.Context, userID string) (*notification.Feed, error)
	markReadFn func(ctx context.Context, userID string, ids []string) (int64, error)
}

func (m *mockNotificationService) List(ctx context.Context, userID string) (*notification.Feed, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return &notification.Feed{Notifications: []*model.Notification{}, PollIntervalSeconds: notification.PollIntervalSeconds}, nil
}

func (m *mockNotificationService) MarkRead(ctx context.Context, userID string, ids []string) (int64, error) {
	if m.markReadFn != nil {
		return m.markReadFn(ctx, userID, ids)
	}
	return 0, nil
}

type mockUserService struct {
	withdrawFn func(ctx context.Context, userID string) error
	searchFn   func(ctx context.Context, callerID, query string) ([]model.UserSummary, error)
}

func (m *mockUserService) Withdraw(ctx context.Context, userID string) error {
	if m.withdrawFn != nil {
		return m.withdrawFn(ctx, userID)
	}
	return nil
}

func (m *mockUserService) Search(ctx context.Context, callerID, query string) ([]model.UserSummary, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, callerID, query)
	}
	return []model.UserSummary{}, nil
}

type mockBucketInitializer struct {
	results []storage.BucketResult
	calls   int
}

func (m *mockBucketInitializer) EnsureBuckets(ctx context.Context) []storage.BucketResult {
	m.calls++
	return m.results
}

// --- テストヘルパー ---

// withUserID はテスト用にリクエストコンテキストにユーザーIDを注入するヘルパー。
func withUserID(r *http.Request, userID string) *http.Request {
	ctx := middleware.ContextWithUserID(r.Context(), userID)
	return r.WithContext(ctx)
}

// withChiURLParams はテスト用にchiのURLパラメータを注入するヘルパー。引数はキーと値の組。
func withChiURLParams(r *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var result map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

// decodeBody はレスポンスボディをvにデコードするヘルパー。
func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

// findCookie はレスポンスから指定名のCookieを探す。
func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func strPtr(s string) *string { return &s }
