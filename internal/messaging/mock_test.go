package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/campusnest/internal/model"
	"github.com/hitoshi/campusnest/internal/repository"
)

// --- モック定義 ---

type mockUserFilter struct {
	filterExistingFn func(ctx context.Context, ids []string) ([]string, error)
}

func (m *mockUserFilter) FilterExisting(ctx context.Context, ids []string) ([]string, error) {
	if m.filterExistingFn != nil {
		return m.filterExistingFn(ctx, ids)
	}
	return ids, nil
}

type mockConversationRepo struct {
	createWithParticipantsFn func(ctx context.Context, conv *model.Conversation, participants []model.Participant) error
	findByIDFn               func(ctx context.Context, id string) (*model.Conversation, error)
	isParticipantFn          func(ctx context.Context, conversationID, userID string) (bool, error)
	listByUserFn             func(ctx context.Context, userID string) ([]model.ConversationSummary, error)
	touchFn                  func(ctx context.Context, conversationID string) error
}

var _ repository.ConversationRepository = (*mockConversationRepo)(nil)

func (m *mockConversationRepo) CreateWithParticipants(ctx context.Context, conv *model.Conversation, participants []model.Participant) error {
	if m.createWithParticipantsFn != nil {
		return m.createWithParticipantsFn(ctx, conv, participants)
	}
	return nil
}

func (m *mockConversationRepo) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return &model.Conversation{ID: id, Type: model.ConversationDirect}, nil
}

func (m *mockConversationRepo) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	if m.isParticipantFn != nil {
		return m.isParticipantFn(ctx, conversationID, userID)
	}
	return true, nil
}

func (m *mockConversationRepo) ListByUser(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	if m.listByUserFn != nil {
		return m.listByUserFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockConversationRepo) Touch(ctx context.Context, conversationID string) error {
	if m.touchFn != nil {
		return m.touchFn(ctx, conversationID)
	}
	return nil
}

type mockMessageRepo struct {
	createFn             func(ctx context.Context, msg *model.Message) error
	listByConversationFn func(ctx context.Context, conversationID string, before time.Time, limit int) ([]*model.Message, error)
}

var _ repository.MessageRepository = (*mockMessageRepo)(nil)

func (m *mockMessageRepo) Create(ctx context.Context, msg *model.Message) error {
	if m.createFn != nil {
		return m.createFn(ctx, msg)
	}
	return nil
}

func (m *mockMessageRepo) ListByConversation(ctx context.Context, conversationID string, before time.Time, limit int) ([]*model.Message, error) {
	if m.listByConversationFn != nil {
		return m.listByConversationFn(ctx, conversationID, before, limit)
	}
	return nil, nil
}

type triggeredEvent struct {
	channel string
	event   string
	data    interface{}
}

type mockTrigger struct {
	mu     sync.Mutex
	events []triggeredEvent
	err    error
}

func (m *mockTrigger) Trigger(channel string, eventName string, data interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, triggeredEvent{channel: channel, event: eventName, data: data})
	return m.err
}

type mockSigner struct {
	authorizeFn func(params []byte) ([]byte, error)
	calls       int
}

func (m *mockSigner) AuthorizePrivateChannel(params []byte) ([]byte, error) {
	m.calls++
	if m.authorizeFn != nil {
		return m.authorizeFn(params)
	}
	return []byte(`{"auth":"key:signature"}`), nil
}

type mockRecorder struct {
	mu       sync.Mutex
	outcomes []string
	sent     []string
}

func (m *mockRecorder) RecordChannelAuth(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *mockRecorder) RecordMessageSent(messageType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, messageType)
}
