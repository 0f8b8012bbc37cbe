// Package auth はOAuth認証フロー、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/campusnest/internal/model"
	"github.com/hitoshi/campusnest/internal/repository"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	Provider       string // "google" 等
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int           // セッション有効期間（秒）
	RefreshWindow time.Duration // 発行からリフレッシュ可能な期間
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	if config.RefreshWindow <= 0 {
		config.RefreshWindow = 720 * time.Hour
	}
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		config:      config,
		now:         time.Now,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// 未登録のIdPアカウントは、同じメールアドレスのユーザーがいればそのユーザーに紐付け、
// いなければusersレコードとidentitiesレコードを同時に自動作成する。
// 作成直後のユーザーはオンボーディング未完了の状態になる。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	// 1. 認可コードをトークンに交換し、ユーザー情報を取得
	userInfo, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	// 2. identitiesテーブルで既存ユーザーを検索
	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, userInfo.Provider, userInfo.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	var userID string
	if identity != nil {
		// 3a. 既存ユーザー: メールアドレスの変更のみ反映する（失敗してもログインは継続）
		userID = identity.UserID
		if err := s.identRepo.SyncEmail(ctx, userID, userInfo.Email); err != nil {
			slog.Warn("failed to sync user email",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
		slog.Info("existing user signed in",
			slog.String("user_id", userID),
			slog.String("provider", userInfo.Provider),
		)
	} else {
		userID, err = s.linkOrCreateUser(ctx, userInfo)
		if err != nil {
			return nil, err
		}
	}

	// 4. セッションを発行
	session, err := s.createSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, nil
}

// linkOrCreateUser は未登録のIdPアカウントを既存ユーザーに紐付けるか、新規ユーザーを作成する。
func (s *Service) linkOrCreateUser(ctx context.Context, userInfo *OAuthUserInfo) (string, error) {
	now := s.now()
	identity := &model.Identity{
		ID:             uuid.New().String(),
		Provider:       userInfo.Provider,
		ProviderUserID: userInfo.ProviderUserID,
		CreatedAt:      now,
	}

	// 3b. 同じメールアドレスのユーザーがいれば紐付ける
	if userInfo.Email != "" {
		existingID, err := s.identRepo.FindUserIDByEmail(ctx, userInfo.Email)
		if err != nil {
			return "", fmt.Errorf("failed to find user by email: %w", err)
		}
		if existingID != "" {
			identity.UserID = existingID
			if err := s.identRepo.Link(ctx, identity); err != nil {
				return "", fmt.Errorf("failed to link identity: %w", err)
			}
			slog.Info("identity linked to existing user",
				slog.String("user_id", existingID),
				slog.String("provider", userInfo.Provider),
			)
			return existingID, nil
		}
	}

	// 3c. 新規ユーザー: usersレコードとidentitiesレコードを同時に作成
	newUser := &model.User{
		ID:        uuid.New().String(),
		Email:     userInfo.Email,
		Name:      userInfo.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	identity.UserID = newUser.ID

	if err := s.userRepo.CreateWithIdentity(ctx, newUser, identity); err != nil {
		return "", fmt.Errorf("failed to create user and identity: %w", err)
	}

	slog.Info("new user signed up",
		slog.String("user_id", newUser.ID),
		slog.String("provider", userInfo.Provider),
	)
	return newUser.ID, nil
}

// ResolveSession はセッションIDから有効なセッションを解決する。
// 有効期限切れでもリフレッシュ期限内であれば有効期限を延長し、refreshed=trueを返す。
// セッションが存在しない場合はnilを返す。
func (s *Service) ResolveSession(ctx context.Context, sessionID string) (*model.Session, bool, error) {
	if sessionID == "" {
		return nil, false, nil
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, false, nil
	}

	now := s.now()
	if session.ExpiresAt.After(now) {
		return session, false, nil
	}
	if !session.RefreshExpiresAt.After(now) {
		return nil, false, nil
	}

	// リフレッシュ期限内: 有効期限を延長する
	expiresAt := now.Add(time.Duration(s.config.SessionMaxAge) * time.Second)
	if expiresAt.After(session.RefreshExpiresAt) {
		expiresAt = session.RefreshExpiresAt
	}
	if err := s.sessionRepo.Extend(ctx, session.ID, expiresAt); err != nil {
		return nil, false, fmt.Errorf("failed to extend session: %w", err)
	}
	session.ExpiresAt = expiresAt

	slog.Debug("session refreshed", slog.String("user_id", session.UserID))
	return session, true, nil
}

// Logout はセッションを破棄する。
// セッションIDが空の場合はno_sessionエラーを返す。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return model.NewValidationError(model.ErrCodeNoSession, "ログイン中のセッションがありません。")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user signed out")
	return nil
}

// GetCurrentUser は指定ユーザーの情報を取得する。
func (s *Service) GetCurrentUser(ctx context.Context, userID string) (*model.User, error) {
	if userID == "" {
		return nil, model.NewUnauthorizedError()
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	return user, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:               sessionID,
		UserID:           userID,
		ExpiresAt:        now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		RefreshExpiresAt: now.Add(s.config.RefreshWindow),
		CreatedAt:        now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
