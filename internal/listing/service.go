package listing

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/campusnest/internal/model"
	"github.com/hitoshi/campusnest/internal/repository"
	"github.com/hitoshi/campusnest/internal/security"
)

// 保存のきっかけ（メトリクスとログのラベル）
const (
	TriggerNext     = "next"
	TriggerBack     = "back"
	TriggerSaveExit = "save_exit"
	TriggerUnload   = "unload"
	TriggerPopstate = "popstate"
	TriggerDebounce = "debounce"
	TriggerFlush    = "flush"
	TriggerShutdown = "shutdown"
)

// SearchLimit は物件検索の最大件数。
const SearchLimit = 10

var navigationTriggers = map[string]bool{
	TriggerNext:     true,
	TriggerBack:     true,
	TriggerSaveExit: true,
	TriggerUnload:   true,
	TriggerPopstate: true,
}

// RoleChecker はユーザーのロール判定を行う。
type RoleChecker interface {
	HasRole(ctx context.Context, userID string, role model.UserType) (bool, error)
}

// Recorder はウィザードの保存と写真の保存を記録する。
type Recorder interface {
	RecordAutosaveFlush(trigger string)
	RecordPhotoStored(source string)
}

// PropertyDetail は物件の列・属性・写真をまとめたもの。
type PropertyDetail struct {
	Property *model.Property
	Features []model.PropertyFeature
	Photos   []model.PropertyPhoto
}

// Service は物件掲載ウィザードのユースケースを提供する。
type Service struct {
	properties repository.PropertyRepository
	photos     repository.PhotoRepository
	roles      RoleChecker
	sanitizer  security.ContentSanitizerService
	recorder   Recorder
	queue      *AutosaveQueue
	importer   *PhotoImporter
	now        func() time.Time
}

// NewService はServiceを生成する。
// 自動保存キューはdebounce間隔で生成し、Closeで停止する。
func NewService(
	properties repository.PropertyRepository,
	photos repository.PhotoRepository,
	roles RoleChecker,
	sanitizer security.ContentSanitizerService,
	recorder Recorder,
	debounce time.Duration,
) *Service {
	s := &Service{
		properties: properties,
		photos:     photos,
		roles:      roles,
		sanitizer:  sanitizer,
		recorder:   recorder,
		now:        time.Now,
	}
	s.queue = NewAutosaveQueue(debounce, s.persistQueued)
	return s
}

// SetPhotoImporter は写真の保存先を設定する。未設定の場合、写真APIはstorage_unavailableを返す。
func (s *Service) SetPhotoImporter(importer *PhotoImporter) {
	s.importer = importer
}

// CreateDraft は呼び出し元を貸主とする下書き物件を作成する。
func (s *Service) CreateDraft(ctx context.Context, callerID string) (*model.Property, error) {
	ok, err := s.roles.HasRole(ctx, callerID, model.UserTypeLandlord)
	if err != nil {
		return nil, fmt.Errorf("ロールの確認に失敗しました: %w", err)
	}
	if !ok {
		return nil, model.NewForbiddenError(model.ErrCodeLandlordRequired, "物件を登録できるのは貸主のみです。")
	}

	now := s.now()
	p := &model.Property{
		ID:         uuid.New().String(),
		LandlordID: callerID,
		Status:     model.PropertyDraft,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.properties.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("物件の作成に失敗しました: %w", err)
	}

	slog.Info("property draft created",
		slog.String("property_id", p.ID),
		slog.String("user_id", callerID),
	)
	return p, nil
}

// Get は物件の詳細を返す。所有者のみ参照できる。
func (s *Service) Get(ctx context.Context, callerID, propertyID string) (*PropertyDetail, error) {
	p, err := s.ownedProperty(ctx, callerID, propertyID)
	if err != nil {
		return nil, err
	}

	features, err := s.properties.ListFeatures(ctx, propertyID, nil)
	if err != nil {
		return nil, fmt.Errorf("物件属性の取得に失敗しました: %w", err)
	}
	photos, err := s.photos.ListByProperty(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("物件写真の取得に失敗しました: %w", err)
	}

	return &PropertyDetail{Property: p, Features: features, Photos: photos}, nil
}

// Publish は物件を公開する。タイトルと月額賃料が必須。
// 保留中の自動保存を先に書き込んでから判定する。
func (s *Service) Publish(ctx context.Context, callerID, propertyID string) (*model.Property, error) {
	if _, err := s.ownedProperty(ctx, callerID, propertyID); err != nil {
		return nil, err
	}
	if err := s.queue.Flush(ctx, propertyID); err != nil {
		return nil, err
	}

	p, err := s.properties.FindByID(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("物件の取得に失敗しました: %w", err)
	}
	if p == nil {
		return nil, model.NewPropertyNotFoundError(propertyID)
	}

	var missing []string
	if p.Title == nil || strings.TrimSpace(*p.Title) == "" {
		missing = append(missing, "title")
	}
	if p.MonthlyRent == nil {
		missing = append(missing, "monthly_rent")
	}
	if len(missing) > 0 {
		return nil, model.NewValidationError(model.ErrCodeListingIncomplete,
			fmt.Sprintf("公開に必要な項目が未入力です: %s", strings.Join(missing, ", ")), missing...)
	}

	if err := s.properties.UpdateStatus(ctx, propertyID, model.PropertyPublished); err != nil {
		return nil, fmt.Errorf("物件の公開に失敗しました: %w", err)
	}
	p.Status = model.PropertyPublished
	return p, nil
}

// LoadStep はステップの既知項目の保存済みの値を返す。未保存の項目は含めない。
func (s *Service) LoadStep(ctx context.Context, callerID, propertyID, stepName string) (map[string]interface{}, error) {
	step, err := lookupStep(stepName)
	if err != nil {
		return nil, err
	}
	p, err := s.ownedProperty(ctx, callerID, propertyID)
	if err != nil {
		return nil, err
	}

	values := make(map[string]interface{}, len(step.Fields))
	if step.Kind == StepColumns {
		for name, v := range propertyColumns(p) {
			if _, ok := step.Field(name); ok && v != nil {
				values[name] = v
			}
		}
		return values, nil
	}

	features, err := s.properties.ListFeatures(ctx, propertyID, step.Names())
	if err != nil {
		return nil, fmt.Errorf("物件属性の取得に失敗しました: %w", err)
	}
	for _, f := range features {
		if field, ok := step.Field(f.Name); ok {
			values[f.Name] = ParseFeatureValue(field, f.Value)
		}
	}
	return values, nil
}

// SaveStep はステップの値を即時保存する（ナビゲーション時の保存）。
// 同じステップの保留中の自動保存は、この保存で置き換える。
func (s *Service) SaveStep(ctx context.Context, callerID, propertyID, stepName string, raw map[string]interface{}, trigger string) error {
	if trigger == "" {
		trigger = TriggerNext
	}
	if !navigationTriggers[trigger] {
		return model.NewValidationError(model.ErrCodeInvalidRequest,
			fmt.Sprintf("不正なtriggerです: %s", trigger), "trigger")
	}

	step, values, err := s.prepare(ctx, callerID, propertyID, stepName, raw)
	if err != nil {
		return err
	}

	err = s.queue.SaveNow(ctx, propertyID, step.Name, func(ctx context.Context) error {
		return s.persist(ctx, propertyID, step, values, step.Names())
	})
	if err != nil {
		return err
	}

	s.recordFlush(trigger)
	slog.Info("listing step saved",
		slog.String("property_id", propertyID),
		slog.String("step", step.Name),
		slog.String("trigger", trigger),
	)
	return nil
}

// EnqueueDraft は自動保存キューに値を積む。値は同じステップの保留中の値にマージされる。
func (s *Service) EnqueueDraft(ctx context.Context, callerID, propertyID, stepName string, raw map[string]interface{}) error {
	step, values, err := s.prepare(ctx, callerID, propertyID, stepName, raw)
	if err != nil {
		return err
	}
	s.queue.Enqueue(propertyID, step.Name, values)
	return nil
}

// FlushDraft は物件の保留中の自動保存を全て書き込む。
func (s *Service) FlushDraft(ctx context.Context, callerID, propertyID string) error {
	if _, err := s.ownedProperty(ctx, callerID, propertyID); err != nil {
		return err
	}
	return s.queue.Flush(ctx, propertyID)
}

// Close は保留中の自動保存を全て書き込み、キューを停止する。
func (s *Service) Close(ctx context.Context) error {
	return s.queue.Close(ctx)
}

// prepare はステップと所有者を確認し、値を型変換する。未知の項目名は無視する。
func (s *Service) prepare(ctx context.Context, callerID, propertyID, stepName string, raw map[string]interface{}) (Step, map[string]interface{}, error) {
	step, err := lookupStep(stepName)
	if err != nil {
		return Step{}, nil, err
	}
	if _, err := s.ownedProperty(ctx, callerID, propertyID); err != nil {
		return Step{}, nil, err
	}

	values := make(map[string]interface{}, len(raw))
	var invalid []string
	for name, v := range raw {
		field, ok := step.Field(name)
		if !ok {
			continue
		}
		coerced, err := Coerce(field, v)
		if err != nil {
			invalid = append(invalid, name)
			continue
		}
		values[name] = s.sanitize(field, coerced)
	}
	if len(invalid) > 0 {
		return Step{}, nil, model.NewValidationError(model.ErrCodeInvalidFieldValue,
			fmt.Sprintf("入力値が不正です: %s", strings.Join(sortedCopy(invalid), ", ")), sortedCopy(invalid)...)
	}
	return step, values, nil
}

// sanitize は自由入力の文字列をサニタイズする。空になった場合はnil。
func (s *Service) sanitize(field Field, v interface{}) interface{} {
	str, ok := v.(string)
	if !ok {
		return v
	}
	if field.Type == FieldRichText {
		str = s.sanitizer.ListingHTML(str)
	} else {
		str = s.sanitizer.PlainText(str)
	}
	if str == "" {
		return nil
	}
	return str
}

// persistQueued は自動保存キューからの書き込み。
func (s *Service) persistQueued(ctx context.Context, propertyID, stepName string, values map[string]interface{}, trigger string) error {
	step, ok := LookupStep(stepName)
	if !ok {
		return fmt.Errorf("unknown step %q", stepName)
	}
	// 自動保存は差分なので、属性は受け取った項目名だけを置き換える
	if err := s.persist(ctx, propertyID, step, values, sortedKeys(values)); err != nil {
		return err
	}
	s.recordFlush(trigger)
	return nil
}

// persist は変換済みの値を保存する。
// 属性ステップはreplaceに含まれる項目名の行を削除し、値のある項目を1行ずつ挿入する（同一トランザクション）。
func (s *Service) persist(ctx context.Context, propertyID string, step Step, values map[string]interface{}, replace []string) error {
	if step.Kind == StepColumns {
		if len(values) == 0 {
			return nil
		}
		if err := s.properties.UpdateColumns(ctx, propertyID, values); err != nil {
			return fmt.Errorf("物件の更新に失敗しました: %w", err)
		}
		return nil
	}

	now := s.now()
	features := make([]model.PropertyFeature, 0, len(values))
	for _, name := range replace {
		v, ok := values[name]
		if !ok || v == nil {
			continue
		}
		features = append(features, model.PropertyFeature{
			ID:         uuid.New().String(),
			PropertyID: propertyID,
			Category:   step.Category,
			Name:       name,
			Value:      FormatFeatureValue(v),
			CreatedAt:  now,
		})
	}
	if len(replace) == 0 {
		return nil
	}
	if err := s.properties.ReplaceFeatures(ctx, propertyID, replace, features); err != nil {
		return fmt.Errorf("物件属性の保存に失敗しました: %w", err)
	}
	return nil
}

// ownedProperty は物件の存在と所有者を確認する。
func (s *Service) ownedProperty(ctx context.Context, callerID, propertyID string) (*model.Property, error) {
	if _, err := uuid.Parse(propertyID); err != nil {
		return nil, model.NewPropertyNotFoundError(propertyID)
	}
	p, err := s.properties.FindByID(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("物件の取得に失敗しました: %w", err)
	}
	if p == nil {
		return nil, model.NewPropertyNotFoundError(propertyID)
	}
	if p.LandlordID != callerID {
		return nil, model.NewForbiddenError(model.ErrCodeNotPropertyOwner, "この物件を編集する権限がありません。")
	}
	return p, nil
}

func (s *Service) recordFlush(trigger string) {
	if s.recorder != nil {
		s.recorder.RecordAutosaveFlush(trigger)
	}
}

func lookupStep(name string) (Step, error) {
	step, ok := LookupStep(name)
	if !ok {
		return Step{}, model.NewNotFoundError(model.ErrCodeUnknownStep,
			fmt.Sprintf("不明なステップです: %s", name))
	}
	return step, nil
}

// propertyColumns は列ステップで扱う列の現在値を返す。NULLはnil。
func propertyColumns(p *model.Property) map[string]interface{} {
	cols := map[string]interface{}{
		"title":             derefString(p.Title),
		"description":       derefString(p.Description),
		"property_type":     derefString(p.PropertyType),
		"address":           derefString(p.Address),
		"city":              derefString(p.City),
		"state":             derefString(p.State),
		"postal_code":       derefString(p.PostalCode),
		"latitude":          derefFloat(p.Latitude),
		"longitude":         derefFloat(p.Longitude),
		"bedrooms":          derefInt(p.Bedrooms),
		"bathrooms":         derefFloat(p.Bathrooms),
		"monthly_rent":      derefFloat(p.MonthlyRent),
		"lease_term_months": derefInt(p.LeaseTermMonths),
		"available_from":    nil,
	}
	if p.AvailableFrom != nil {
		cols["available_from"] = p.AvailableFrom.Format(dateLayout)
	}
	return cols
}

func derefString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func derefFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func derefInt(i *int) interface{} {
	if i == nil {
		return nil
	}
	return *i
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func sortedKeys(values map[string]interface{}) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Search はタイトル・市区町村・住所の部分一致で物件を検索する。空白のみのクエリは空の結果を返す。
func (s *Service) Search(ctx context.Context, query string) ([]model.PropertySummary, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []model.PropertySummary{}, nil
	}
	results, err := s.properties.Search(ctx, query, SearchLimit)
	if err != nil {
		return nil, fmt.Errorf("物件検索に失敗しました: %w", err)
	}
	if results == nil {
		results = []model.PropertySummary{}
	}
	return results, nil
}
