package listing

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/campusnest/internal/model"
	"github.com/hitoshi/campusnest/internal/repository"
	"github.com/hitoshi/campusnest/internal/security"
)

const (
	testLandlordID = "landlord-1"
	testPropertyID = "0b7d3c52-5d0e-4b0a-9c61-0f6f1e0b6a11"
)

// --- モック定義 ---

type mockPropertyRepo struct {
	createFn          func(ctx context.Context, property *model.Property) error
	findByIDFn        func(ctx context.Context, id string) (*model.Property, error)
	updateColumnsFn   func(ctx context.Context, id string, values map[string]interface{}) error
	updateStatusFn    func(ctx context.Context, id string, status model.PropertyStatus) error
	replaceFeaturesFn func(ctx context.Context, propertyID string, names []string, features []model.PropertyFeature) error
	listFeaturesFn    func(ctx context.Context, propertyID string, names []string) ([]model.PropertyFeature, error)
	searchFn          func(ctx context.Context, query string, limit int) ([]model.PropertySummary, error)
}

var _ repository.PropertyRepository = (*mockPropertyRepo)(nil)

func (m *mockPropertyRepo) Create(ctx context.Context, property *model.Property) error {
	if m.createFn != nil {
		return m.createFn(ctx, property)
	}
	return nil
}

func (m *mockPropertyRepo) FindByID(ctx context.Context, id string) (*model.Property, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return &model.Property{ID: id, LandlordID: testLandlordID, Status: model.PropertyDraft}, nil
}

func (m *mockPropertyRepo) UpdateColumns(ctx context.Context, id string, values map[string]interface{}) error {
	if m.updateColumnsFn != nil {
		return m.updateColumnsFn(ctx, id, values)
	}
	return nil
}

func (m *mockPropertyRepo) UpdateStatus(ctx context.Context, id string, status model.PropertyStatus) error {
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, id, status)
	}
	return nil
}

func (m *mockPropertyRepo) ReplaceFeatures(ctx context.Context, propertyID string, names []string, features []model.PropertyFeature) error {
	if m.replaceFeaturesFn != nil {
		return m.replaceFeaturesFn(ctx, propertyID, names, features)
	}
	return nil
}

func (m *mockPropertyRepo) ListFeatures(ctx context.Context, propertyID string, names []string) ([]model.PropertyFeature, error) {
	if m.listFeaturesFn != nil {
		return m.listFeaturesFn(ctx, propertyID, names)
	}
	return nil, nil
}

func (m *mockPropertyRepo) Search(ctx context.Context, query string, limit int) ([]model.PropertySummary, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, query, limit)
	}
	return nil, nil
}

type mockPhotoRepo struct {
	createFn         func(ctx context.Context, photo *model.PropertyPhoto) error
	listByPropertyFn func(ctx context.Context, propertyID string) ([]model.PropertyPhoto, error)
}

var _ repository.PhotoRepository = (*mockPhotoRepo)(nil)

func (m *mockPhotoRepo) Create(ctx context.Context, photo *model.PropertyPhoto) error {
	if m.createFn != nil {
		return m.createFn(ctx, photo)
	}
	return nil
}

func (m *mockPhotoRepo) ListByProperty(ctx context.Context, propertyID string) ([]model.PropertyPhoto, error) {
	if m.listByPropertyFn != nil {
		return m.listByPropertyFn(ctx, propertyID)
	}
	return nil, nil
}

type mockRoleChecker struct {
	hasRoleFn func(ctx context.Context, userID string, role model.UserType) (bool, error)
}

func (m *mockRoleChecker) HasRole(ctx context.Context, userID string, role model.UserType) (bool, error) {
	if m.hasRoleFn != nil {
		return m.hasRoleFn(ctx, userID, role)
	}
	return true, nil
}

type mockRecorder struct {
	mu      sync.Mutex
	flushes []string
	photos  []string
}

func (m *mockRecorder) RecordAutosaveFlush(trigger string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes = append(m.flushes, trigger)
}

func (m *mockRecorder) RecordPhotoStored(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.photos = append(m.photos, source)
}

type mockObjectStore struct {
	putObjectFn func(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error
}

func (m *mockObjectStore) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error {
	if m.putObjectFn != nil {
		return m.putObjectFn(ctx, bucket, key, r, size, contentType)
	}
	return nil
}

// mockGuard はhttptestサーバー（ループバック）に接続できるよう通常のクライアントを返す。
type mockGuard struct {
	validateURLFn func(rawURL string) error
}

var _ security.SSRFGuardService = (*mockGuard)(nil)

func (m *mockGuard) NewSafeClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func (m *mockGuard) ValidateURL(rawURL string) error {
	if m.validateURLFn != nil {
		return m.validateURLFn(rawURL)
	}
	return nil
}

// --- 偽タイマー ---

type fakeTimer struct {
	mu      sync.Mutex
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// fire はタイマー満了を模倣する。停止済みなら何もしない。
func (t *fakeTimer) fire() {
	t.mu.Lock()
	if t.stopped || t.fired {
		t.mu.Unlock()
		return
	}
	t.fired = true
	t.mu.Unlock()
	t.f()
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) afterFunc(_ time.Duration, f func()) timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) last() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers[len(c.timers)-1]
}

// --- ヘルパー ---

func newTestService(props *mockPropertyRepo, photos *mockPhotoRepo, roles *mockRoleChecker, rec *mockRecorder) (*Service, *fakeClock) {
	if props == nil {
		props = &mockPropertyRepo{}
	}
	if photos == nil {
		photos = &mockPhotoRepo{}
	}
	if roles == nil {
		roles = &mockRoleChecker{}
	}
	if rec == nil {
		rec = &mockRecorder{}
	}
	svc := NewService(props, photos, roles, security.NewContentSanitizer(), rec, time.Second)
	clock := &fakeClock{}
	svc.queue.afterFunc = clock.afterFunc
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return svc, clock
}

func expectAPIError(t *testing.T, err error, code string) *model.APIError {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError with code %q, got %v", code, err)
	}
	if apiErr.Code != code {
		t.Fatalf("Code = %q, want %q", apiErr.Code, code)
	}
	return apiErr
}
