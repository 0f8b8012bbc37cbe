// Package cleanup は期限切れデータの自動削除ジョブを提供する。
// リフレッシュ期限を過ぎたセッションと、保持期間（デフォルト90日）を
// 超過した既読通知を日次バッチで削除する。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// SessionPurger は期限切れセッションを削除する。
type SessionPurger interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// NotificationPurger は古い既読通知を削除する。
type NotificationPurger interface {
	DeleteReadBefore(ctx context.Context, before time.Time) (int64, error)
}

// Recorder は削除件数を記録する。
type Recorder interface {
	RecordCleanupDeleted(kind string, n int64)
}

// CleanupJob は期限切れデータの自動削除ジョブ。
// 冪等: 削除対象がない場合でもエラーにならない。
type CleanupJob struct {
	sessions      SessionPurger
	notifications NotificationPurger
	recorder      Recorder
	logger        *slog.Logger
	now           func() time.Time
	RetentionDays int // 既読通知の保持日数（デフォルト: 90）
}

// NewCleanupJob は新しいCleanupJobを生成する。recorderはnilでもよい。
func NewCleanupJob(sessions SessionPurger, notifications NotificationPurger, recorder Recorder, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		sessions:      sessions,
		notifications: notifications,
		recorder:      recorder,
		logger:        logger,
		now:           time.Now,
		RetentionDays: 90,
	}
}

// Run はセッションと既読通知を削除する。
// 片方が失敗してももう片方は実行し、失敗をまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()

	var errs []error

	sessions, err := j.sessions.DeleteExpired(ctx, start)
	if err != nil {
		j.logger.Error("セッションの削除に失敗しました",
			slog.String("error", err.Error()),
		)
		errs = append(errs, fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err))
	} else {
		j.record("sessions", sessions)
	}

	cutoff := start.AddDate(0, 0, -j.RetentionDays)
	notifications, err := j.notifications.DeleteReadBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("既読通知の削除に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		errs = append(errs, fmt.Errorf("通知クリーンアップの実行に失敗: %w", err))
	} else {
		j.record("notifications", notifications)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_sessions", sessions),
		slog.Int64("deleted_notifications", notifications),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(j.now().Sub(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回、その後interval間隔でRunを実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップジョブを開始しました",
		slog.Duration("interval", interval),
	)

	j.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *CleanupJob) runLogged(ctx context.Context) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

func (j *CleanupJob) record(kind string, n int64) {
	if j.recorder != nil {
		j.recorder.RecordCleanupDeleted(kind, n)
	}
}
