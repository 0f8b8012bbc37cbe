// Package notification は通知フィードの取得と既読化を提供する。
package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hitoshi/campusnest/internal/model"
	"github.com/hitoshi/campusnest/internal/repository"
)

const (
	// FeedLimit は1回の取得で返す通知の最大件数。
	FeedLimit = 50
	// PollIntervalSeconds はクライアントに伝えるポーリング間隔。
	PollIntervalSeconds = 30
)

// ReadRecorder は既読化した件数を記録する。
type ReadRecorder interface {
	RecordNotificationsRead(n int64)
}

// Feed は通知一覧のレスポンス。
type Feed struct {
	Notifications       []*model.Notification
	UnreadCount         int
	PollIntervalSeconds int
}

// Service は通知フィードのサービス層。
type Service struct {
	repo     repository.NotificationRepository
	recorder ReadRecorder
}

// NewService はServiceを生成する。
func NewService(repo repository.NotificationRepository, recorder ReadRecorder) *Service {
	return &Service{repo: repo, recorder: recorder}
}

// List はユーザー宛てと全体通知を新しい順に返す。
func (s *Service) List(ctx context.Context, userID string) (*Feed, error) {
	notifications, err := s.repo.ListVisible(ctx, userID, FeedLimit)
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗しました: %w", err)
	}
	unread, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("未読件数の取得に失敗しました: %w", err)
	}
	if notifications == nil {
		notifications = []*model.Notification{}
	}

	return &Feed{
		Notifications:       notifications,
		UnreadCount:         unread,
		PollIntervalSeconds: PollIntervalSeconds,
	}, nil
}

// MarkRead は指定IDの通知を既読にし、更新件数を返す。
// 他人宛て・既読済み・存在しないIDは黙って除外する。
func (s *Service) MarkRead(ctx context.Context, userID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, model.NewValidationError(model.ErrCodeMissingIDs, "既読にする通知IDを指定してください。", "ids")
	}

	seen := make(map[string]bool, len(ids))
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil || seen[id] {
			continue
		}
		seen[id] = true
		valid = append(valid, id)
	}
	if len(valid) == 0 {
		return 0, nil
	}

	updated, err := s.repo.MarkRead(ctx, userID, valid)
	if err != nil {
		return 0, fmt.Errorf("通知の既読化に失敗しました: %w", err)
	}

	if s.recorder != nil {
		s.recorder.RecordNotificationsRead(updated)
	}
	slog.Info("notifications marked read",
		slog.String("user_id", userID),
		slog.Int("requested", len(ids)),
		slog.Int64("updated", updated),
	)
	return updated, nil
}
