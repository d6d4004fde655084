package service

import (
	"context"
	"io"
	"sync"
	"time"

	"msgflow/internal/models"
	"msgflow/pkg/provider"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// mockStore covers the store slices every service consumes.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *mockStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	args := m.Called(ctx, id)
	if msg := args.Get(0); msg != nil {
		return msg.(*models.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) GetMessageByProviderID(ctx context.Context, providerID string) (*models.Message, error) {
	args := m.Called(ctx, providerID)
	if msg := args.Get(0); msg != nil {
		return msg.(*models.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) ClaimDueMessages(ctx context.Context, priority models.Priority, maxRetryAttempts, limit int, now time.Time) ([]*models.Message, error) {
	args := m.Called(ctx, priority, maxRetryAttempts, limit, now)
	if msgs := args.Get(0); msgs != nil {
		return msgs.([]*models.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) MarkMessageSent(ctx context.Context, id, providerID string) error {
	args := m.Called(ctx, id, providerID)
	return args.Error(0)
}

func (m *mockStore) MarkMessageFailed(ctx context.Context, id, reason string) error {
	args := m.Called(ctx, id, reason)
	return args.Error(0)
}

func (m *mockStore) ExhaustMessageRetries(ctx context.Context, id string, maxRetryAttempts int) error {
	args := m.Called(ctx, id, maxRetryAttempts)
	return args.Error(0)
}

func (m *mockStore) ScheduleMessageRetry(ctx context.Context, id string, newRetryCount int, scheduledAt time.Time) (bool, error) {
	args := m.Called(ctx, id, newRetryCount, scheduledAt)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) TransitionMessageStatus(ctx context.Context, id string, from, to models.MessageStatus) (bool, error) {
	args := m.Called(ctx, id, from, to)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) ListRetryableFailed(ctx context.Context, maxRetryAttempts, limit int, now time.Time) ([]*models.Message, error) {
	args := m.Called(ctx, maxRetryAttempts, limit, now)
	if msgs := args.Get(0); msgs != nil {
		return msgs.([]*models.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) InsertMessageEvent(ctx context.Context, event *models.MessageEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *mockStore) ListMessageEvents(ctx context.Context, messageID string) ([]*models.MessageEvent, error) {
	args := m.Called(ctx, messageID)
	if events := args.Get(0); events != nil {
		return events.([]*models.MessageEvent), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) GetOrCreateConversation(ctx context.Context, remoteAddress string, channel models.Channel) (*models.Conversation, error) {
	args := m.Called(ctx, remoteAddress, channel)
	if conv := args.Get(0); conv != nil {
		return conv.(*models.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) CreateTemplate(ctx context.Context, tpl *models.Template) error {
	args := m.Called(ctx, tpl)
	return args.Error(0)
}

func (m *mockStore) GetTemplate(ctx context.Context, id string) (*models.Template, error) {
	args := m.Called(ctx, id)
	if tpl := args.Get(0); tpl != nil {
		return tpl.(*models.Template), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) ListTemplates(ctx context.Context) ([]*models.Template, error) {
	args := m.Called(ctx)
	if tpls := args.Get(0); tpls != nil {
		return tpls.([]*models.Template), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) ListSyncableTemplates(ctx context.Context) ([]*models.Template, error) {
	args := m.Called(ctx)
	if tpls := args.Get(0); tpls != nil {
		return tpls.([]*models.Template), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) ListApprovedWithoutContentRef(ctx context.Context) ([]*models.Template, error) {
	args := m.Called(ctx)
	if tpls := args.Get(0); tpls != nil {
		return tpls.([]*models.Template), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) UpdateTemplateBody(ctx context.Context, id, body string) (bool, error) {
	args := m.Called(ctx, id, body)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) MarkTemplateSubmitted(ctx context.Context, id, externalID string) (bool, error) {
	args := m.Called(ctx, id, externalID)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) SetTemplateStatus(ctx context.Context, id string, status models.TemplateStatus, rejectionReason *string, approvedAt *time.Time) error {
	args := m.Called(ctx, id, status, rejectionReason, approvedAt)
	return args.Error(0)
}

func (m *mockStore) SyncTemplateStatus(ctx context.Context, id string, status models.TemplateStatus, rejectionReason *string, approvedAt *time.Time, providerUpdatedAt time.Time) (bool, error) {
	args := m.Called(ctx, id, status, rejectionReason, approvedAt, providerUpdatedAt)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) SetTemplateContentRef(ctx context.Context, id, contentRef string) (bool, error) {
	args := m.Called(ctx, id, contentRef)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) DeleteTemplate(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) InsertTemplateRequest(ctx context.Context, req *models.TemplateRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *mockStore) LatestPendingTemplateRequest(ctx context.Context, templateID string) (*models.TemplateRequest, error) {
	args := m.Called(ctx, templateID)
	if req := args.Get(0); req != nil {
		return req.(*models.TemplateRequest), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) DecideTemplateRequest(ctx context.Context, requestID, reviewer string, decision models.ReviewDecision, comments *string) (bool, error) {
	args := m.Called(ctx, requestID, reviewer, decision, comments)
	return args.Bool(0), args.Error(1)
}

// mockSender stands in for the provider's transmission API.
type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, channel, destination, body string) (string, error) {
	args := m.Called(ctx, channel, destination, body)
	return args.String(0), args.Error(1)
}

func (m *mockSender) SendTemplate(ctx context.Context, destination, templateRef string, params map[string]string) (string, error) {
	args := m.Called(ctx, destination, templateRef, params)
	return args.String(0), args.Error(1)
}

// mockTemplateProvider stands in for the provider's review API.
type mockTemplateProvider struct {
	mock.Mock
}

func (m *mockTemplateProvider) SubmitTemplate(ctx context.Context, def provider.TemplateDefinition) (string, error) {
	args := m.Called(ctx, def)
	return args.String(0), args.Error(1)
}

func (m *mockTemplateProvider) GetTemplateStatus(ctx context.Context, externalID string) (*provider.TemplateStatusInfo, error) {
	args := m.Called(ctx, externalID)
	if info := args.Get(0); info != nil {
		return info.(*provider.TemplateStatusInfo), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTemplateProvider) GetTemplateContentRef(ctx context.Context, externalID string) (string, error) {
	args := m.Called(ctx, externalID)
	return args.String(0), args.Error(1)
}

// recordingNotifier captures published events for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	Topic   string
	Payload interface{}
}

func (n *recordingNotifier) Publish(topic string, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{Topic: topic, Payload: payload})
}

func (n *recordingNotifier) Events() []recordedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]recordedEvent, len(n.events))
	copy(out, n.events)
	return out
}

func (n *recordingNotifier) TopicCount(topic string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, e := range n.events {
		if e.Topic == topic {
			count++
		}
	}
	return count
}
