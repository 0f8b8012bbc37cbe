// Package messaging は会話・メッセージとリアルタイムチャネルの認可を提供する。
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/hitoshi/campusnest/internal/model"
)

const (
	userChannelPrefix         = "private-user-"
	conversationChannelPrefix = "private-conversation-"
)

// チャネル認可の結果（メトリクスのラベル）
const (
	OutcomeGranted   = "granted"
	OutcomeForbidden = "forbidden"
	OutcomeError     = "error"
)

// UserChannel はユーザー個人宛てのチャネル名を返す。
func UserChannel(userID string) string {
	return userChannelPrefix + userID
}

// ConversationChannel は会話のチャネル名を返す。
func ConversationChannel(conversationID string) string {
	return conversationChannelPrefix + conversationID
}

// ChannelSigner はリアルタイムサービスのSDKによるプライベートチャネルの署名。
// paramsは socket_id と channel_name を含むフォームエンコードされた値。
type ChannelSigner interface {
	AuthorizePrivateChannel(params []byte) ([]byte, error)
}

// ParticipantChecker は会話の参加者判定を行う。
type ParticipantChecker interface {
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

// ChannelAuthRecorder はチャネル認可の結果を記録する。
type ChannelAuthRecorder interface {
	RecordChannelAuth(outcome string)
}

// ChannelAuthorizer はユーザーがチャネルを購読できるかを判定し、署名済みの許可を発行する。
// 判定結果はキャッシュしない。
type ChannelAuthorizer struct {
	signer       ChannelSigner
	participants ParticipantChecker
	recorder     ChannelAuthRecorder
}

// NewChannelAuthorizer はChannelAuthorizerを生成する。
// signerがnilの場合、認可は常にrealtime_unavailableを返す。
func NewChannelAuthorizer(signer ChannelSigner, participants ParticipantChecker, recorder ChannelAuthRecorder) *ChannelAuthorizer {
	return &ChannelAuthorizer{
		signer:       signer,
		participants: participants,
		recorder:     recorder,
	}
}

// Authorize はcallerがchannelNameを購読できるかを判定し、許可ペイロードをそのまま返す。
func (a *ChannelAuthorizer) Authorize(ctx context.Context, callerID, socketID, channelName string) ([]byte, error) {
	socketID = strings.TrimSpace(socketID)
	channelName = strings.TrimSpace(channelName)

	var missing []string
	if socketID == "" {
		missing = append(missing, "socket_id")
	}
	if channelName == "" {
		missing = append(missing, "channel_name")
	}
	if len(missing) > 0 {
		return nil, model.NewValidationError(model.ErrCodeMissingSocketOrChannel,
			"socket_id と channel_name は必須です。", missing...)
	}

	allowed, err := a.isAllowed(ctx, callerID, channelName)
	if err != nil {
		a.record(OutcomeError)
		return nil, err
	}
	if !allowed {
		a.record(OutcomeForbidden)
		slog.Warn("channel subscription denied",
			slog.String("user_id", callerID),
			slog.String("channel", channelName),
		)
		return nil, model.NewForbiddenError(model.ErrCodeChannelForbidden,
			fmt.Sprintf("チャネルへのアクセス権限がありません: %s", channelName))
	}

	// 権限の判定を先に行い、配信未設定でも権限のない呼び出しは403にする
	if a.signer == nil {
		return nil, &model.APIError{
			Kind:     model.KindUnavailable,
			Code:     model.ErrCodeRealtimeUnavailable,
			Message:  "リアルタイム配信が設定されていません。",
			Category: "messaging",
			Action:   "しばらく待ってから再度お試しください。",
		}
	}

	params := url.Values{
		"socket_id":    {socketID},
		"channel_name": {channelName},
	}
	payload, err := a.signer.AuthorizePrivateChannel([]byte(params.Encode()))
	if err != nil {
		a.record(OutcomeError)
		return nil, model.NewValidationError(model.ErrCodeInvalidSocketID,
			fmt.Sprintf("チャネルの認可に失敗しました: %v", err), "socket_id")
	}

	a.record(OutcomeGranted)
	return payload, nil
}

// isAllowed はチャネル名のパターンに応じて購読可否を判定する。
func (a *ChannelAuthorizer) isAllowed(ctx context.Context, callerID, channelName string) (bool, error) {
	switch {
	case strings.HasPrefix(channelName, userChannelPrefix):
		return strings.TrimPrefix(channelName, userChannelPrefix) == callerID, nil

	case strings.HasPrefix(channelName, conversationChannelPrefix):
		conversationID := strings.TrimPrefix(channelName, conversationChannelPrefix)
		if conversationID == "" {
			return false, nil
		}
		ok, err := a.participants.IsParticipant(ctx, conversationID, callerID)
		if err != nil {
			return false, fmt.Errorf("参加者の確認に失敗しました: %w", err)
		}
		return ok, nil
	}
	return false, nil
}

func (a *ChannelAuthorizer) record(outcome string) {
	if a.recorder != nil {
		a.recorder.RecordChannelAuth(outcome)
	}
}
