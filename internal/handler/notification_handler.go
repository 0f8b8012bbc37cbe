package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/campusnest/internal/notification"
)

// NotificationServiceInterface は通知ハンドラーが必要とするサービスインターフェース。
type NotificationServiceInterface interface {
	List(ctx context.Context, userID string) (*notification.Feed, error)
	MarkRead(ctx context.Context, userID string, ids []string) (int64, error)
}

// NotificationHandler は通知フィードのHTTPハンドラー。
type NotificationHandler struct {
	service NotificationServiceInterface
}

// NewNotificationHandler はNotificationHandlerを生成する。
func NewNotificationHandler(service NotificationServiceInterface) *NotificationHandler {
	return &NotificationHandler{service: service}
}

type notificationFeedResponse struct {
	Notifications       []notificationResponse `json:"notifications"`
	UnreadCount         int                    `json:"unread_count"`
	PollIntervalSeconds int                    `json:"poll_interval_seconds"`
}

type markReadRequest struct {
	IDs []string `json:"ids"`
}

type markReadResponse struct {
	Success bool  `json:"success"`
	Updated int64 `json:"updated"`
}

// List は通知一覧と未読件数を返す。
// GET /api/notifications
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	feed, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notificationFeedResponse{
		Notifications:       toNotificationResponses(feed.Notifications),
		UnreadCount:         feed.UnreadCount,
		PollIntervalSeconds: feed.PollIntervalSeconds,
	})
}

// MarkRead は指定した通知を既読にする。
// POST /api/notifications
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req markReadRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	updated, err := h.service.MarkRead(r.Context(), userID, req.IDs)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, markReadResponse{Success: true, Updated: updated})
}
