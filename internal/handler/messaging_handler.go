package handler

import (
	"context"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/campusnest/internal/messaging"
	"github.com/hitoshi/campusnest/internal/middleware"
	"github.com/hitoshi/campusnest/internal/model"
)

// MessagingServiceInterface はメッセージングハンドラーが必要とするサービスインターフェース。
type MessagingServiceInterface interface {
	CreateConversation(ctx context.Context, callerID string, req messaging.CreateConversationRequest) (*messaging.CreatedConversation, error)
	ListConversations(ctx context.Context, callerID string) ([]model.ConversationSummary, error)
	ListMessages(ctx context.Context, callerID, conversationID string, before time.Time, limit int) ([]*model.Message, error)
	SendMessage(ctx context.Context, callerID, conversationID string, req messaging.SendMessageRequest) (*model.Message, error)
}

// ChannelAuthorizerInterface はリアルタイムチャネルの購読認可を行う。
type ChannelAuthorizerInterface interface {
	Authorize(ctx context.Context, callerID, socketID, channelName string) ([]byte, error)
}

// MessagingHandler はメッセージングのHTTPハンドラー。
type MessagingHandler struct {
	service    MessagingServiceInterface
	authorizer ChannelAuthorizerInterface
}

// NewMessagingHandler はMessagingHandlerを生成する。
func NewMessagingHandler(service MessagingServiceInterface, authorizer ChannelAuthorizerInterface) *MessagingHandler {
	return &MessagingHandler{service: service, authorizer: authorizer}
}

type channelAuthRequest struct {
	SocketID    string `json:"socket_id"`
	ChannelName string `json:"channel_name"`
}

type createConversationResponse struct {
	Conversation     conversationResponse    `json:"conversation"`
	ParticipantCount int                     `json:"participant_count"`
	Message          *messaging.MessageEvent `json:"message,omitempty"`
}

// Auth はプライベートチャネルの購読を認可し、署名済みペイロードをそのまま返す。
// フォーム形式とJSONの両方を受け付ける。
// POST /api/messaging/auth
func (h *MessagingHandler) Auth(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req channelAuthRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if !decodeJSON(w, r, &req) {
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			middleware.WriteErrorResponse(w, http.StatusBadRequest,
				model.NewValidationError(model.ErrCodeInvalidRequest, "リクエストボディが不正です。"))
			return
		}
		req.SocketID = r.PostForm.Get("socket_id")
		req.ChannelName = r.PostForm.Get("channel_name")
	}

	payload, err := h.authorizer.Authorize(r.Context(), userID, req.SocketID, req.ChannelName)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// ListConversations は呼び出し元の会話一覧を返す。
// GET /api/messaging/conversation
func (h *MessagingHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	convs, err := h.service.ListConversations(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": toConversationSummaryResponses(convs),
	})
}

// CreateConversation は会話を作成する。
// POST /api/messaging/conversation
func (h *MessagingHandler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req messaging.CreateConversationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	created, err := h.service.CreateConversation(r.Context(), userID, req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := createConversationResponse{
		Conversation:     toConversationResponse(created.Conversation),
		ParticipantCount: created.ParticipantCount,
	}
	if created.FirstMessage != nil {
		ev := messaging.NewMessageEvent(created.FirstMessage)
		resp.Message = &ev
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListMessages は会話のメッセージを新しい順に返す。
// GET /api/messaging/conversation/{id}/messages?before=RFC3339&limit=50
func (h *MessagingHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var before time.Time
	if v := r.URL.Query().Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			middleware.WriteErrorResponse(w, http.StatusBadRequest,
				model.NewValidationError(model.ErrCodeInvalidRequest, "beforeはRFC3339形式で指定してください。", "before"))
			return
		}
		before = t
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			middleware.WriteErrorResponse(w, http.StatusBadRequest,
				model.NewValidationError(model.ErrCodeInvalidRequest, "limitは1以上の整数で指定してください。", "limit"))
			return
		}
		limit = n
	}

	msgs, err := h.service.ListMessages(r.Context(), userID, chi.URLParam(r, "id"), before, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": toMessageResponses(msgs),
	})
}

// SendMessage は会話にメッセージを送信する。
// POST /api/messaging/conversation/{id}/messages
func (h *MessagingHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req messaging.SendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	msg, err := h.service.SendMessage(r.Context(), userID, chi.URLParam(r, "id"), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, messaging.NewMessageEvent(msg))
}
