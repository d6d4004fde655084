package service

import (
	"context"
	"testing"
	"time"

	"msgflow/internal/models"
	"msgflow/pkg/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func newTestDispatcher(store *mockStore, sender *mockSender, notify Notifier) *Dispatcher {
	retries := NewRetryController(store, 3, time.Minute, testLogger())
	return NewDispatcher(store, sender, nil, retries, notify, DispatcherConfig{
		BatchSize:        100,
		Concurrency:      4,
		MaxRetryAttempts: 3,
	}, testLogger())
}

func claimedMessage(mutate func(*models.Message)) *models.Message {
	msg := &models.Message{
		ID:          "msg-1",
		Channel:     models.ChannelSMS,
		Destination: "+15551234567",
		Body:        "hello",
		Status:      models.StatusSending,
		Priority:    models.PriorityNormal,
	}
	if mutate != nil {
		mutate(msg)
	}
	return msg
}

func TestDispatcher_DispatchDue_Success(t *testing.T) {
	store := &mockStore{}
	sender := &mockSender{}
	notify := &recordingNotifier{}
	d := newTestDispatcher(store, sender, notify)

	msg := claimedMessage(nil)
	store.On("ClaimDueMessages", mock.Anything, models.PriorityNormal, 3, 100, mock.Anything).
		Return([]*models.Message{msg}, nil)
	sender.On("Send", mock.Anything, "sms", "+15551234567", "hello").Return("prov-1", nil)
	store.On("MarkMessageSent", mock.Anything, "msg-1", "prov-1").Return(nil)
	store.On("InsertMessageEvent", mock.Anything, mock.MatchedBy(func(e *models.MessageEvent) bool {
		return e.MessageID == "msg-1" && e.Kind == models.EventSent
	})).Return(nil)

	d.DispatchDue(context.Background(), models.PriorityNormal)

	store.AssertExpectations(t)
	sender.AssertExpectations(t)
	assert.Equal(t, 1, notify.TopicCount(TopicMessageStatus))
	store.AssertNotCalled(t, "MarkMessageFailed", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcher_DispatchDue_NothingClaimed(t *testing.T) {
	store := &mockStore{}
	sender := &mockSender{}
	d := newTestDispatcher(store, sender, nil)

	store.On("ClaimDueMessages", mock.Anything, models.PriorityHigh, 3, 100, mock.Anything).
		Return([]*models.Message{}, nil)

	d.DispatchDue(context.Background(), models.PriorityHigh)

	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcher_PermanentProviderError(t *testing.T) {
	store := &mockStore{}
	sender := &mockSender{}
	notify := &recordingNotifier{}
	d := newTestDispatcher(store, sender, notify)

	msg := claimedMessage(nil)
	store.On("ClaimDueMessages", mock.Anything, models.PriorityNormal, 3, 100, mock.Anything).
		Return([]*models.Message{msg}, nil)
	sender.On("Send", mock.Anything, "sms", "+15551234567", "hello").
		Return("", &provider.SendError{Code: "invalid_destination", Message: "no such number"})
	store.On("MarkMessageFailed", mock.Anything, "msg-1", mock.Anything).Return(nil)
	store.On("InsertMessageEvent", mock.Anything, mock.MatchedBy(func(e *models.MessageEvent) bool {
		return e.Kind == models.EventFailed && e.ErrorDetail != nil
	})).Return(nil)
	store.On("ExhaustMessageRetries", mock.Anything, "msg-1", 3).Return(nil)

	d.DispatchDue(context.Background(), models.PriorityNormal)

	store.AssertExpectations(t)
	// Permanent failures never re-enter the queue.
	store.AssertNotCalled(t, "ScheduleMessageRetry", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 1, notify.TopicCount(TopicMessageStatus))
}

func TestDispatcher_TransientProviderError_SchedulesRetry(t *testing.T) {
	store := &mockStore{}
	sender := &mockSender{}
	d := newTestDispatcher(store, sender, nil)

	msg := claimedMessage(nil)
	store.On("ClaimDueMessages", mock.Anything, models.PriorityNormal, 3, 100, mock.Anything).
		Return([]*models.Message{msg}, nil)
	sender.On("Send", mock.Anything, "sms", "+15551234567", "hello").
		Return("", &provider.SendError{Code: "rate_limited", Message: "slow down"})
	store.On("MarkMessageFailed", mock.Anything, "msg-1", mock.Anything).Return(nil)
	store.On("InsertMessageEvent", mock.Anything, mock.Anything).Return(nil)
	store.On("ScheduleMessageRetry", mock.Anything, "msg-1", 1, mock.Anything).Return(true, nil)

	d.DispatchDue(context.Background(), models.PriorityNormal)

	store.AssertExpectations(t)
	store.AssertNotCalled(t, "ExhaustMessageRetries", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcher_TransientErrorOnLastAttempt_Exhausts(t *testing.T) {
	store := &mockStore{}
	sender := &mockSender{}
	d := newTestDispatcher(store, sender, nil)

	// retry_count 2 means this claim is the third and final attempt under a
	// budget of 3. Another transient failure must not reschedule.
	msg := claimedMessage(func(m *models.Message) {
		m.RetryCount = 2
	})
	store.On("ClaimDueMessages", mock.Anything, models.PriorityNormal, 3, 100, mock.Anything).
		Return([]*models.Message{msg}, nil)
	sender.On("Send", mock.Anything, "sms", "+15551234567", "hello").
		Return("", &provider.SendError{Code: "rate_limited", Message: "slow down"})
	store.On("MarkMessageFailed", mock.Anything, "msg-1", mock.Anything).Return(nil)
	store.On("InsertMessageEvent", mock.Anything, mock.Anything).Return(nil)
	store.On("ExhaustMessageRetries", mock.Anything, "msg-1", 3).Return(nil)

	d.DispatchDue(context.Background(), models.PriorityNormal)

	store.AssertExpectations(t)
	store.AssertNotCalled(t, "ScheduleMessageRetry", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcher_MissingDestination_FailsWithoutSending(t *testing.T) {
	store := &mockStore{}
	sender := &mockSender{}
	d := newTestDispatcher(store, sender, nil)

	msg := claimedMessage(func(m *models.Message) {
		m.Destination = ""
	})
	store.On("ClaimDueMessages", mock.Anything, models.PriorityNormal, 3, 100, mock.Anything).
		Return([]*models.Message{msg}, nil)
	store.On("MarkMessageFailed", mock.Anything, "msg-1", mock.Anything).Return(nil)
	store.On("InsertMessageEvent", mock.Anything, mock.Anything).Return(nil)
	store.On("ExhaustMessageRetries", mock.Anything, "msg-1", 3).Return(nil)

	d.DispatchDue(context.Background(), models.PriorityNormal)

	store.AssertExpectations(t)
	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcher_TemplateMessage_SendsContentRef(t *testing.T) {
	store := &mockStore{}
	sender := &mockSender{}
	d := newTestDispatcher(store, sender, nil)

	templateID := "tpl-1"
	params := `{"code":"1234"}`
	msg := claimedMessage(func(m *models.Message) {
		m.Body = ""
		m.TemplateID = &templateID
		m.TemplateParams = &params
	})
	contentRef := "ctr-9"
	tpl := &models.Template{
		ID:         templateID,
		Status:     models.TemplateApproved,
		ContentRef: &contentRef,
	}

	store.On("ClaimDueMessages", mock.Anything, models.PriorityNormal, 3, 100, mock.Anything).
		Return([]*models.Message{msg}, nil)
	store.On("GetTemplate", mock.Anything, templateID).Return(tpl, nil)
	sender.On("SendTemplate", mock.Anything, "+15551234567", "ctr-9", map[string]string{"code": "1234"}).
		Return("prov-2", nil)
	store.On("MarkMessageSent", mock.Anything, "msg-1", "prov-2").Return(nil)
	store.On("InsertMessageEvent", mock.Anything, mock.Anything).Return(nil)

	d.DispatchDue(context.Background(), models.PriorityNormal)

	store.AssertExpectations(t)
	sender.AssertExpectations(t)
}

func TestDispatcher_UnapprovedTemplate_FailsPermanently(t *testing.T) {
	store := &mockStore{}
	sender := &mockSender{}
	d := newTestDispatcher(store, sender, nil)

	templateID := "tpl-1"
	msg := claimedMessage(func(m *models.Message) {
		m.TemplateID = &templateID
	})
	tpl := &models.Template{ID: templateID, Status: models.TemplatePending}

	store.On("ClaimDueMessages", mock.Anything, models.PriorityNormal, 3, 100, mock.Anything).
		Return([]*models.Message{msg}, nil)
	store.On("GetTemplate", mock.Anything, templateID).Return(tpl, nil)
	store.On("MarkMessageFailed", mock.Anything, "msg-1", mock.Anything).Return(nil)
	store.On("InsertMessageEvent", mock.Anything, mock.Anything).Return(nil)
	store.On("ExhaustMessageRetries", mock.Anything, "msg-1", 3).Return(nil)

	d.DispatchDue(context.Background(), models.PriorityNormal)

	store.AssertExpectations(t)
	sender.AssertNotCalled(t, "SendTemplate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "ScheduleMessageRetry", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcher_SweepFailed(t *testing.T) {
	store := &mockStore{}
	sender := &mockSender{}
	d := newTestDispatcher(store, sender, nil)

	orphan := claimedMessage(func(m *models.Message) {
		m.Status = models.StatusFailed
		m.RetryCount = 1
	})
	store.On("ListRetryableFailed", mock.Anything, 3, 100, mock.Anything).
		Return([]*models.Message{orphan}, nil)
	store.On("ScheduleMessageRetry", mock.Anything, "msg-1", 2, mock.Anything).Return(true, nil)

	d.SweepFailed(context.Background())

	store.AssertExpectations(t)
}

func TestDispatcher_CircuitBreakerOpen_FailsTransiently(t *testing.T) {
	store := &mockStore{}
	sender := &mockSender{}
	breaker := NewCircuitBreaker("provider", 1, time.Minute, testLogger())
	retries := NewRetryController(store, 3, time.Minute, testLogger())
	d := NewDispatcher(store, sender, breaker, retries, nil, DispatcherConfig{
		BatchSize:        100,
		Concurrency:      1,
		MaxRetryAttempts: 3,
	}, testLogger())

	// Trip the breaker.
	_ = breaker.Execute(context.Background(), func(context.Context) error {
		return &provider.SendError{Code: "rate_limited", Message: "slow down"}
	})

	msg := claimedMessage(nil)
	store.On("ClaimDueMessages", mock.Anything, models.PriorityNormal, 3, 100, mock.Anything).
		Return([]*models.Message{msg}, nil)
	store.On("MarkMessageFailed", mock.Anything, "msg-1", mock.Anything).Return(nil)
	store.On("InsertMessageEvent", mock.Anything, mock.Anything).Return(nil)
	store.On("ScheduleMessageRetry", mock.Anything, "msg-1", 1, mock.Anything).Return(true, nil)

	d.DispatchDue(context.Background(), models.PriorityNormal)

	store.AssertExpectations(t)
	// The provider is never called while the breaker is open.
	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
