package onboarding

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/hitoshi/campusnest/internal/database"
	"github.com/hitoshi/campusnest/internal/model"
	"github.com/hitoshi/campusnest/internal/repository"
)

// minimumAge はオンボーディングを完了できる最低年齢。
const minimumAge = 18

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// CompleteRequest はオンボーディング完了リクエスト。
type CompleteRequest struct {
	Username           string `json:"username"`
	FirstName          string `json:"firstName"`
	LastName           string `json:"lastName"`
	DateOfBirth        string `json:"dateOfBirth"`
	UserType           string `json:"userType"`
	Phone              string `json:"phone"`
	University         string `json:"university"`
	Bio                string `json:"bio"`
	AddressLine        string `json:"addressLine"`
	City               string `json:"city"`
	State              string `json:"state"`
	PostalCode         string `json:"postalCode"`
	EmailNotifications *bool  `json:"emailNotifications"`
	SMSNotifications   *bool  `json:"smsNotifications"`
	MarketingEmails    *bool  `json:"marketingEmails"`
}

// CompletedUser はオンボーディング完了後に返すユーザー情報。
type CompletedUser struct {
	ID        string         `json:"id"`
	Username  string         `json:"username"`
	FirstName string         `json:"firstName"`
	LastName  string         `json:"lastName"`
	UserType  model.UserType `json:"userType"`
}

// CompletionRecorder はオンボーディング完了を記録するメトリクスインターフェース。
type CompletionRecorder interface {
	RecordOnboardingCompleted(userType string)
}

// Service はオンボーディング完了処理を提供する。
type Service struct {
	users    repository.UserRepository
	roles    repository.RoleRepository
	checker  *StatusChecker
	recorder CompletionRecorder
	now      func() time.Time
}

// NewService はServiceを生成する。recorderはnilでもよい。
func NewService(users repository.UserRepository, roles repository.RoleRepository, checker *StatusChecker, recorder CompletionRecorder) *Service {
	return &Service{
		users:    users,
		roles:    roles,
		checker:  checker,
		recorder: recorder,
		now:      time.Now,
	}
}

// Status はユーザーがオンボーディング済みかを返す。
func (s *Service) Status(ctx context.Context, userID string) (bool, error) {
	return s.checker.Check(ctx, userID)
}

// Complete はプロフィールを検証・保存し、オンボーディングを完了させる。
// 同じ内容での再送信は同じ結果になる。
func (s *Service) Complete(ctx context.Context, userID string, req CompleteRequest) (*CompletedUser, error) {
	// 1. 入力の検証
	profile, err := s.validate(userID, req)
	if err != nil {
		return nil, err
	}

	// 2. ユーザー名の重複確認（自分自身は除く）
	ownerID, err := s.users.FindIDByUsername(ctx, profile.Username)
	if err != nil {
		return nil, fmt.Errorf("ユーザー名の確認に失敗しました: %w", err)
	}
	if ownerID != "" && ownerID != userID {
		return nil, model.NewUsernameTakenError(profile.Username)
	}

	// 3. users更新とcustomers UPSERTを1トランザクションで実行
	customer := &model.Customer{
		UserID:      userID,
		FirstName:   profile.FirstName,
		LastName:    profile.LastName,
		DateOfBirth: profile.DateOfBirth,
		AddressLine: strings.TrimSpace(req.AddressLine),
		City:        strings.TrimSpace(req.City),
		State:       strings.TrimSpace(req.State),
		PostalCode:  strings.TrimSpace(req.PostalCode),
	}
	if err := s.users.CompleteProfile(ctx, profile, customer); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, model.NewUsernameTakenError(profile.Username)
		}
		return nil, fmt.Errorf("プロフィールの保存に失敗しました: %w", err)
	}

	// 4. ロール付与（失敗してもオンボーディングは完了扱い）
	if err := s.roles.Grant(ctx, userID, profile.UserType); err != nil {
		slog.Warn("failed to grant role after onboarding",
			slog.String("user_id", userID),
			slog.String("role", string(profile.UserType)),
			slog.String("error", err.Error()),
		)
	}

	if s.recorder != nil {
		s.recorder.RecordOnboardingCompleted(string(profile.UserType))
	}
	slog.Info("onboarding completed",
		slog.String("user_id", userID),
		slog.String("user_type", string(profile.UserType)),
	)

	return &CompletedUser{
		ID:        userID,
		Username:  profile.Username,
		FirstName: profile.FirstName,
		LastName:  profile.LastName,
		UserType:  profile.UserType,
	}, nil
}

// validate はリクエストを検証し、保存用のプロフィールを組み立てる。
// 最初に見つかった問題のみを返す。
func (s *Service) validate(userID string, req CompleteRequest) (*model.UserProfile, error) {
	username := strings.TrimSpace(req.Username)
	firstName := strings.TrimSpace(req.FirstName)
	lastName := strings.TrimSpace(req.LastName)
	dobRaw := strings.TrimSpace(req.DateOfBirth)
	userType := model.UserType(strings.TrimSpace(req.UserType))

	var missing []string
	for _, f := range []struct {
		name  string
		value string
	}{
		{"username", username},
		{"firstName", firstName},
		{"lastName", lastName},
		{"dateOfBirth", dobRaw},
		{"userType", string(userType)},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return nil, model.NewMissingFieldsError(missing)
	}

	if !usernamePattern.MatchString(username) {
		return nil, model.NewValidationError(model.ErrCodeInvalidUsernameFormat,
			"ユーザー名には英数字とアンダースコアのみ使用できます。", "username")
	}

	if !userType.Valid() {
		return nil, model.NewValidationError(model.ErrCodeInvalidUserType,
			"利用者区分はrenterまたはlandlordを指定してください。", "userType")
	}

	dob, err := time.Parse("2006-01-02", dobRaw)
	if err != nil || dob.After(s.now()) {
		return nil, model.NewValidationError(model.ErrCodeInvalidDateOfBirth,
			"生年月日はYYYY-MM-DD形式で指定してください。", "dateOfBirth")
	}
	if Age(dob, s.now()) < minimumAge {
		return nil, model.NewValidationError(model.ErrCodeUnderage,
			fmt.Sprintf("%d歳以上である必要があります。", minimumAge), "dateOfBirth")
	}

	return &model.UserProfile{
		UserID:      userID,
		Username:    username,
		FirstName:   firstName,
		LastName:    lastName,
		DateOfBirth: dob,
		UserType:    userType,
		Phone:       strings.TrimSpace(req.Phone),
		University:  strings.TrimSpace(req.University),
		Bio:         strings.TrimSpace(req.Bio),
		Notifications: model.NotificationPreferences{
			Email:     boolOr(req.EmailNotifications, true),
			SMS:       boolOr(req.SMSNotifications, false),
			Marketing: boolOr(req.MarketingEmails, false),
		},
	}, nil
}

// Age はnow時点での満年齢を返す。誕生日前であれば1を引く。
func Age(dob, now time.Time) int {
	years := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		years--
	}
	return years
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
