package listing

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/campusnest/internal/model"
)

func TestCreateDraft(t *testing.T) {
	var created *model.Property
	props := &mockPropertyRepo{
		createFn: func(_ context.Context, p *model.Property) error {
			created = p
			return nil
		},
	}
	svc, _ := newTestService(props, nil, nil, nil)

	p, err := svc.CreateDraft(context.Background(), testLandlordID)
	if err != nil {
		t.Fatalf("CreateDraft: %v", err)
	}
	if created == nil || created.ID != p.ID {
		t.Fatal("property was not created")
	}
	if p.LandlordID != testLandlordID || p.Status != model.PropertyDraft {
		t.Errorf("property = %+v", p)
	}
}

func TestCreateDraft_RequiresLandlord(t *testing.T) {
	roles := &mockRoleChecker{
		hasRoleFn: func(_ context.Context, _ string, role model.UserType) (bool, error) {
			if role != model.UserTypeLandlord {
				t.Errorf("role = %q", role)
			}
			return false, nil
		},
	}
	svc, _ := newTestService(nil, nil, roles, nil)

	_, err := svc.CreateDraft(context.Background(), "renter-1")
	apiErr := expectAPIError(t, err, model.ErrCodeLandlordRequired)
	if apiErr.Kind != model.KindForbidden {
		t.Errorf("Kind = %q", apiErr.Kind)
	}
}

func TestSaveStep_FeatureStepReplacesStepNames(t *testing.T) {
	var gotNames []string
	var gotFeatures []model.PropertyFeature
	props := &mockPropertyRepo{
		replaceFeaturesFn: func(_ context.Context, propertyID string, names []string, features []model.PropertyFeature) error {
			if propertyID != testPropertyID {
				t.Errorf("propertyID = %q", propertyID)
			}
			gotNames = names
			gotFeatures = features
			return nil
		},
	}
	rec := &mockRecorder{}
	svc, _ := newTestService(props, nil, nil, rec)

	raw := map[string]interface{}{
		"Application Fee": "$50",
		"Pet Fee":         "",
		"Parking Fee":     75,
		"Unknown Fee":     10,
	}
	if err := svc.SaveStep(context.Background(), testLandlordID, testPropertyID, "fees", raw, ""); err != nil {
		t.Fatalf("SaveStep: %v", err)
	}

	if len(gotNames) != 5 {
		t.Errorf("names = %v, want all 5 fee names", gotNames)
	}
	values := map[string]string{}
	for _, f := range gotFeatures {
		if f.Category != "fee" {
			t.Errorf("Category = %q", f.Category)
		}
		values[f.Name] = f.Value
	}
	want := map[string]string{"Application Fee": "50", "Parking Fee": "75"}
	if len(values) != len(want) {
		t.Fatalf("features = %v, want %v", values, want)
	}
	for k, v := range want {
		if values[k] != v {
			t.Errorf("%s = %q, want %q", k, values[k], v)
		}
	}
	if len(rec.flushes) != 1 || rec.flushes[0] != TriggerNext {
		t.Errorf("flushes = %v", rec.flushes)
	}
}

func TestSaveStep_ColumnStep(t *testing.T) {
	var got map[string]interface{}
	props := &mockPropertyRepo{
		updateColumnsFn: func(_ context.Context, _ string, values map[string]interface{}) error {
			got = values
			return nil
		},
	}
	svc, _ := newTestService(props, nil, nil, nil)

	raw := map[string]interface{}{
		"monthly_rent": "$1,200",
		"bedrooms":     "2",
		"bathrooms":    "",
	}
	if err := svc.SaveStep(context.Background(), testLandlordID, testPropertyID, "details", raw, TriggerBack); err != nil {
		t.Fatalf("SaveStep: %v", err)
	}
	if got["monthly_rent"] != 1200.0 {
		t.Errorf("monthly_rent = %#v", got["monthly_rent"])
	}
	if got["bedrooms"] != int64(2) {
		t.Errorf("bedrooms = %#v", got["bedrooms"])
	}
	if v, ok := got["bathrooms"]; !ok || v != nil {
		t.Errorf("bathrooms = %#v, %v; want explicit nil", v, ok)
	}
}

func TestSaveStep_SanitizesFreeText(t *testing.T) {
	var got map[string]interface{}
	props := &mockPropertyRepo{
		updateColumnsFn: func(_ context.Context, _ string, values map[string]interface{}) error {
			got = values
			return nil
		},
	}
	svc, _ := newTestService(props, nil, nil, nil)

	raw := map[string]interface{}{
		"title":       "<b>Cozy</b> studio",
		"description": "<p>Near campus</p><script>alert(1)</script>",
	}
	if err := svc.SaveStep(context.Background(), testLandlordID, testPropertyID, "basics", raw, TriggerSaveExit); err != nil {
		t.Fatalf("SaveStep: %v", err)
	}
	if got["title"] != "Cozy studio" {
		t.Errorf("title = %q", got["title"])
	}
	desc, _ := got["description"].(string)
	if strings.Contains(desc, "script") || !strings.Contains(desc, "<p>Near campus</p>") {
		t.Errorf("description = %q", desc)
	}
}

func TestSaveStep_Errors(t *testing.T) {
	tests := []struct {
		name     string
		caller   string
		property string
		step     string
		raw      map[string]interface{}
		trigger  string
		code     string
	}{
		{"unknown step", testLandlordID, testPropertyID, "pricing", nil, "", model.ErrCodeUnknownStep},
		{"invalid trigger", testLandlordID, testPropertyID, "basics", nil, "reload", model.ErrCodeInvalidRequest},
		{"not owner", "someone-else", testPropertyID, "basics", nil, "", model.ErrCodeNotPropertyOwner},
		{"malformed id", testLandlordID, "not-a-uuid", "basics", nil, "", model.ErrCodePropertyNotFound},
		{"invalid value", testLandlordID, testPropertyID, "details",
			map[string]interface{}{"monthly_rent": "lots", "bedrooms": "two"}, "", model.ErrCodeInvalidFieldValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			props := &mockPropertyRepo{
				updateColumnsFn: func(context.Context, string, map[string]interface{}) error {
					t.Error("UpdateColumns should not be called")
					return nil
				},
			}
			svc, _ := newTestService(props, nil, nil, nil)
			err := svc.SaveStep(context.Background(), tt.caller, tt.property, tt.step, tt.raw, tt.trigger)
			expectAPIError(t, err, tt.code)
		})
	}
}

func TestSaveStep_InvalidValueListsFields(t *testing.T) {
	svc, _ := newTestService(nil, nil, nil, nil)
	raw := map[string]interface{}{"monthly_rent": "lots", "bedrooms": "two"}

	err := svc.SaveStep(context.Background(), testLandlordID, testPropertyID, "details", raw, "")
	apiErr := expectAPIError(t, err, model.ErrCodeInvalidFieldValue)

	fields := append([]string(nil), apiErr.Fields...)
	sort.Strings(fields)
	if strings.Join(fields, ",") != "bedrooms,monthly_rent" {
		t.Errorf("Fields = %v", apiErr.Fields)
	}
}

func TestSaveStep_PropertyNotFound(t *testing.T) {
	props := &mockPropertyRepo{
		findByIDFn: func(context.Context, string) (*model.Property, error) { return nil, nil },
	}
	svc, _ := newTestService(props, nil, nil, nil)

	err := svc.SaveStep(context.Background(), testLandlordID, testPropertyID, "basics", nil, "")
	apiErr := expectAPIError(t, err, model.ErrCodePropertyNotFound)
	if apiErr.Kind != model.KindNotFound {
		t.Errorf("Kind = %q", apiErr.Kind)
	}
}

func TestSaveStep_DiscardsPendingDraft(t *testing.T) {
	var calls int
	props := &mockPropertyRepo{
		updateColumnsFn: func(context.Context, string, map[string]interface{}) error {
			calls++
			return nil
		},
	}
	svc, clock := newTestService(props, nil, nil, nil)
	ctx := context.Background()

	if err := svc.EnqueueDraft(ctx, testLandlordID, testPropertyID, "basics", map[string]interface{}{"title": "Old"}); err != nil {
		t.Fatalf("EnqueueDraft: %v", err)
	}
	if err := svc.SaveStep(ctx, testLandlordID, testPropertyID, "basics", map[string]interface{}{"title": "New"}, TriggerNext); err != nil {
		t.Fatalf("SaveStep: %v", err)
	}
	clock.last().fire()

	if calls != 1 {
		t.Errorf("UpdateColumns calls = %d, want 1", calls)
	}
}

// featureStore はReplaceFeaturesの削除・挿入をメモリ上で再現する。
type featureStore struct {
	mu     sync.Mutex
	values map[string]string
}

func (f *featureStore) replace(names []string, features []model.PropertyFeature) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values == nil {
		f.values = map[string]string{}
	}
	for _, n := range names {
		delete(f.values, n)
	}
	for _, feat := range features {
		f.values[feat.Name] = feat.Value
	}
}

func (f *featureStore) snapshot() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.values))
	for k, v := range f.values {
		out[k] = v
	}
	return out
}

func TestSaveStep_WaitsForRunningAutosave(t *testing.T) {
	store := &featureStore{}
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls, active, maxActive int32
	props := &mockPropertyRepo{
		replaceFeaturesFn: func(_ context.Context, _ string, names []string, features []model.PropertyFeature) error {
			n := atomic.AddInt32(&active, 1)
			defer atomic.AddInt32(&active, -1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			if atomic.AddInt32(&calls, 1) == 1 {
				close(entered)
				<-release
			}
			store.replace(names, features)
			return nil
		},
	}
	svc, clock := newTestService(props, nil, nil, nil)
	ctx := context.Background()

	if err := svc.EnqueueDraft(ctx, testLandlordID, testPropertyID, "fees", map[string]interface{}{"Pet Fee": "10"}); err != nil {
		t.Fatalf("EnqueueDraft: %v", err)
	}
	timerDone := make(chan struct{})
	go func() {
		clock.last().fire()
		close(timerDone)
	}()
	<-entered

	saveDone := make(chan error, 1)
	go func() {
		saveDone <- svc.SaveStep(ctx, testLandlordID, testPropertyID, "fees", map[string]interface{}{"Pet Fee": "99"}, TriggerNext)
	}()
	select {
	case err := <-saveDone:
		t.Fatalf("SaveStep returned while the autosave write was running: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-timerDone
	if err := <-saveDone; err != nil {
		t.Fatalf("SaveStep: %v", err)
	}

	if got := atomic.LoadInt32(&maxActive); got != 1 {
		t.Errorf("max concurrent ReplaceFeatures = %d, want 1", got)
	}
	if got := store.snapshot()["Pet Fee"]; got != "99" {
		t.Errorf("Pet Fee = %q, want %q", got, "99")
	}
}

func TestFlushDraft_PartialFeatureDraftKeepsOtherNames(t *testing.T) {
	store := &featureStore{}
	var flushedNames []string
	props := &mockPropertyRepo{
		replaceFeaturesFn: func(_ context.Context, _ string, names []string, features []model.PropertyFeature) error {
			flushedNames = names
			store.replace(names, features)
			return nil
		},
	}
	svc, _ := newTestService(props, nil, nil, nil)
	ctx := context.Background()

	saved := map[string]interface{}{"Application Fee": 50, "Security Deposit": 500}
	if err := svc.SaveStep(ctx, testLandlordID, testPropertyID, "fees", saved, TriggerNext); err != nil {
		t.Fatalf("SaveStep: %v", err)
	}
	if err := svc.EnqueueDraft(ctx, testLandlordID, testPropertyID, "fees", map[string]interface{}{"Pet Fee": 25}); err != nil {
		t.Fatalf("EnqueueDraft: %v", err)
	}
	if err := svc.FlushDraft(ctx, testLandlordID, testPropertyID); err != nil {
		t.Fatalf("FlushDraft: %v", err)
	}

	if len(flushedNames) != 1 || flushedNames[0] != "Pet Fee" {
		t.Errorf("flushed names = %v, want [Pet Fee]", flushedNames)
	}
	want := map[string]string{"Application Fee": "50", "Security Deposit": "500", "Pet Fee": "25"}
	got := store.snapshot()
	if len(got) != len(want) {
		t.Fatalf("features = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}

	// 空にした項目だけが削除される
	if err := svc.EnqueueDraft(ctx, testLandlordID, testPropertyID, "fees", map[string]interface{}{"Security Deposit": ""}); err != nil {
		t.Fatalf("EnqueueDraft: %v", err)
	}
	if err := svc.FlushDraft(ctx, testLandlordID, testPropertyID); err != nil {
		t.Fatalf("FlushDraft: %v", err)
	}
	got = store.snapshot()
	if _, ok := got["Security Deposit"]; ok {
		t.Errorf("Security Deposit should be cleared, got %v", got)
	}
	if got["Application Fee"] != "50" || got["Pet Fee"] != "25" {
		t.Errorf("features = %v", got)
	}
}

func TestEnqueueDraft_ValidatesBeforeQueueing(t *testing.T) {
	svc, _ := newTestService(nil, nil, nil, nil)

	err := svc.EnqueueDraft(context.Background(), testLandlordID, testPropertyID, "fees", map[string]interface{}{"Pet Fee": "free"})
	expectAPIError(t, err, model.ErrCodeInvalidFieldValue)
	if svc.queue.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", svc.queue.Pending())
	}
}

func TestFlushDraft(t *testing.T) {
	var got []model.PropertyFeature
	props := &mockPropertyRepo{
		replaceFeaturesFn: func(_ context.Context, _ string, _ []string, features []model.PropertyFeature) error {
			got = features
			return nil
		},
	}
	rec := &mockRecorder{}
	svc, _ := newTestService(props, nil, nil, rec)
	ctx := context.Background()

	if err := svc.EnqueueDraft(ctx, testLandlordID, testPropertyID, "amenities", map[string]interface{}{"Gym": "true"}); err != nil {
		t.Fatalf("EnqueueDraft: %v", err)
	}
	if err := svc.EnqueueDraft(ctx, testLandlordID, testPropertyID, "amenities", map[string]interface{}{"Pool": false}); err != nil {
		t.Fatalf("EnqueueDraft: %v", err)
	}
	if err := svc.FlushDraft(ctx, testLandlordID, testPropertyID); err != nil {
		t.Fatalf("FlushDraft: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("features = %+v, want Gym and Pool", got)
	}
	if len(rec.flushes) != 1 || rec.flushes[0] != TriggerFlush {
		t.Errorf("flushes = %v", rec.flushes)
	}
}

func TestFlushDraft_NotOwner(t *testing.T) {
	svc, _ := newTestService(nil, nil, nil, nil)
	err := svc.FlushDraft(context.Background(), "someone-else", testPropertyID)
	expectAPIError(t, err, model.ErrCodeNotPropertyOwner)
}

func TestLoadStep_Columns(t *testing.T) {
	title := "Loft"
	rent := 950.0
	props := &mockPropertyRepo{
		findByIDFn: func(_ context.Context, id string) (*model.Property, error) {
			return &model.Property{ID: id, LandlordID: testLandlordID, Title: &title, MonthlyRent: &rent}, nil
		},
	}
	svc, _ := newTestService(props, nil, nil, nil)

	basics, err := svc.LoadStep(context.Background(), testLandlordID, testPropertyID, "basics")
	if err != nil {
		t.Fatalf("LoadStep: %v", err)
	}
	if len(basics) != 1 || basics["title"] != "Loft" {
		t.Errorf("basics = %v", basics)
	}

	details, err := svc.LoadStep(context.Background(), testLandlordID, testPropertyID, "details")
	if err != nil {
		t.Fatalf("LoadStep: %v", err)
	}
	if _, ok := details["title"]; ok {
		t.Error("details should not include title")
	}
	if details["monthly_rent"] != 950.0 {
		t.Errorf("monthly_rent = %#v", details["monthly_rent"])
	}
}

func TestLoadStep_Features(t *testing.T) {
	props := &mockPropertyRepo{
		listFeaturesFn: func(_ context.Context, _ string, names []string) ([]model.PropertyFeature, error) {
			if len(names) != 4 {
				t.Errorf("names = %v", names)
			}
			return []model.PropertyFeature{
				{Name: "Minimum Credit Score", Value: "650"},
				{Name: "Background Check", Value: "true"},
				{Name: "Legacy", Value: "x"},
			}, nil
		},
	}
	svc, _ := newTestService(props, nil, nil, nil)

	values, err := svc.LoadStep(context.Background(), testLandlordID, testPropertyID, "screening")
	if err != nil {
		t.Fatalf("LoadStep: %v", err)
	}
	if values["Minimum Credit Score"] != int64(650) || values["Background Check"] != true {
		t.Errorf("values = %v", values)
	}
	if _, ok := values["Legacy"]; ok {
		t.Error("unknown names should be dropped")
	}
}

func TestLoadStep_UnknownStep(t *testing.T) {
	svc, _ := newTestService(nil, nil, nil, nil)
	_, err := svc.LoadStep(context.Background(), testLandlordID, testPropertyID, "pricing")
	apiErr := expectAPIError(t, err, model.ErrCodeUnknownStep)
	if apiErr.Kind != model.KindNotFound {
		t.Errorf("Kind = %q", apiErr.Kind)
	}
}

func TestPublish(t *testing.T) {
	title := "Loft"
	rent := 950.0
	var status model.PropertyStatus
	props := &mockPropertyRepo{
		findByIDFn: func(_ context.Context, id string) (*model.Property, error) {
			return &model.Property{ID: id, LandlordID: testLandlordID, Title: &title, MonthlyRent: &rent, Status: model.PropertyDraft}, nil
		},
		updateStatusFn: func(_ context.Context, _ string, s model.PropertyStatus) error {
			status = s
			return nil
		},
	}
	svc, _ := newTestService(props, nil, nil, nil)

	p, err := svc.Publish(context.Background(), testLandlordID, testPropertyID)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if status != model.PropertyPublished || p.Status != model.PropertyPublished {
		t.Errorf("status = %q / %q", status, p.Status)
	}
}

func TestPublish_Incomplete(t *testing.T) {
	svc, _ := newTestService(nil, nil, nil, nil)

	_, err := svc.Publish(context.Background(), testLandlordID, testPropertyID)
	apiErr := expectAPIError(t, err, model.ErrCodeListingIncomplete)
	if strings.Join(apiErr.Fields, ",") != "title,monthly_rent" {
		t.Errorf("Fields = %v", apiErr.Fields)
	}
}

func TestPublish_FlushesPendingDraftFirst(t *testing.T) {
	var flushed bool
	props := &mockPropertyRepo{
		updateColumnsFn: func(context.Context, string, map[string]interface{}) error {
			flushed = true
			return nil
		},
	}
	svc, _ := newTestService(props, nil, nil, nil)
	ctx := context.Background()

	if err := svc.EnqueueDraft(ctx, testLandlordID, testPropertyID, "basics", map[string]interface{}{"title": "Loft"}); err != nil {
		t.Fatalf("EnqueueDraft: %v", err)
	}
	_, _ = svc.Publish(ctx, testLandlordID, testPropertyID)

	if !flushed {
		t.Error("pending draft was not written before publish")
	}
}

func TestGet(t *testing.T) {
	photos := &mockPhotoRepo{
		listByPropertyFn: func(context.Context, string) ([]model.PropertyPhoto, error) {
			return []model.PropertyPhoto{{ID: "ph1"}}, nil
		},
	}
	props := &mockPropertyRepo{
		listFeaturesFn: func(context.Context, string, []string) ([]model.PropertyFeature, error) {
			return []model.PropertyFeature{{Name: "Gym", Value: "true"}}, nil
		},
	}
	svc, _ := newTestService(props, photos, nil, nil)

	detail, err := svc.Get(context.Background(), testLandlordID, testPropertyID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(detail.Features) != 1 || len(detail.Photos) != 1 {
		t.Errorf("detail = %+v", detail)
	}
}

func TestGet_RepositoryError(t *testing.T) {
	props := &mockPropertyRepo{
		findByIDFn: func(context.Context, string) (*model.Property, error) {
			return nil, errors.New("connection refused")
		},
	}
	svc, _ := newTestService(props, nil, nil, nil)

	_, err := svc.Get(context.Background(), testLandlordID, testPropertyID)
	var apiErr *model.APIError
	if err == nil || errors.As(err, &apiErr) {
		t.Errorf("expected wrapped repository error, got %v", err)
	}
}

func TestSearch(t *testing.T) {
	props := &mockPropertyRepo{
		searchFn: func(_ context.Context, query string, limit int) ([]model.PropertySummary, error) {
			if query != "oak" || limit != SearchLimit {
				t.Errorf("query = %q, limit = %d", query, limit)
			}
			return []model.PropertySummary{{ID: "p1", Title: "Oak Street Loft"}}, nil
		},
	}
	svc, _ := newTestService(props, nil, nil, nil)

	got, err := svc.Search(context.Background(), " oak ")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %+v", got)
	}

	blank, err := svc.Search(context.Background(), "  ")
	if err != nil || blank == nil || len(blank) != 0 {
		t.Errorf("blank query = %#v, %v", blank, err)
	}
}
