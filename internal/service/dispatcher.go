package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"msgflow/internal/errors"
	"msgflow/internal/metrics"
	"msgflow/internal/models"
	"msgflow/pkg/provider"

	"github.com/sirupsen/logrus"
)

// DispatchStore is the slice of the store the dispatcher needs.
type DispatchStore interface {
	ClaimDueMessages(ctx context.Context, priority models.Priority, maxRetryAttempts, limit int, now time.Time) ([]*models.Message, error)
	MarkMessageSent(ctx context.Context, id, providerID string) error
	MarkMessageFailed(ctx context.Context, id, reason string) error
	ExhaustMessageRetries(ctx context.Context, id string, maxRetryAttempts int) error
	InsertMessageEvent(ctx context.Context, event *models.MessageEvent) error
	GetTemplate(ctx context.Context, id string) (*models.Template, error)
	ListRetryableFailed(ctx context.Context, maxRetryAttempts, limit int, now time.Time) ([]*models.Message, error)
}

// DispatcherConfig carries the tuning knobs for one dispatcher instance.
type DispatcherConfig struct {
	BatchSize        int
	Concurrency      int
	MaxRetryAttempts int
}

// Dispatcher drains due pending messages and pushes them through the
// provider. Each message is claimed with a conditional status update before
// any network call, so two overlapping ticks never send the same message
// twice. The claim happens before the provider call, which makes delivery
// at-least-once: a crash between the two can leave a message in sending
// until the delivery monitor puts it back in the queue.
type Dispatcher struct {
	store   DispatchStore
	sender  provider.Sender
	breaker *CircuitBreaker
	retries *RetryController
	notify  Notifier
	cfg     DispatcherConfig
	logger  *logrus.Logger
}

func NewDispatcher(store DispatchStore, sender provider.Sender, breaker *CircuitBreaker, retries *RetryController, notify Notifier, cfg DispatcherConfig, logger *logrus.Logger) *Dispatcher {
	if notify == nil {
		notify = NoopNotifier{}
	}
	return &Dispatcher{
		store:   store,
		sender:  sender,
		breaker: breaker,
		retries: retries,
		notify:  notify,
		cfg:     cfg,
		logger:  logger,
	}
}

// DispatchDue claims one batch of due messages at the given priority and
// sends them concurrently, bounded by the configured concurrency.
func (d *Dispatcher) DispatchDue(ctx context.Context, priority models.Priority) {
	msgs, err := d.store.ClaimDueMessages(ctx, priority, d.cfg.MaxRetryAttempts, d.cfg.BatchSize, time.Now().UTC())
	if err != nil {
		d.logger.WithError(err).WithField("priority", priority).Error("Failed to claim due messages")
		return
	}
	if len(msgs) == 0 {
		return
	}

	d.logger.WithFields(logrus.Fields{
		"priority": priority,
		"count":    len(msgs),
	}).Debug("Dispatching claimed messages")

	sem := make(chan struct{}, d.cfg.Concurrency)
	var wg sync.WaitGroup
	for _, msg := range msgs {
		sem <- struct{}{}
		wg.Add(1)
		go func(m *models.Message) {
			defer wg.Done()
			defer func() { <-sem }()
			d.dispatchOne(ctx, m)
		}(msg)
	}
	wg.Wait()
}

// dispatchOne sends a single claimed message and records the outcome. The
// message is already in sending state when this runs.
func (d *Dispatcher) dispatchOne(ctx context.Context, msg *models.Message) {
	if err := d.checkPreconditions(ctx, msg); err != nil {
		d.failPermanently(ctx, msg, err)
		return
	}

	start := time.Now()
	var providerID string
	doSend := func(ctx context.Context) error {
		var err error
		providerID, err = d.send(ctx, msg)
		return err
	}
	var sendErr error
	if d.breaker != nil {
		sendErr = d.breaker.Execute(ctx, doSend)
	} else {
		sendErr = doSend(ctx)
	}
	metrics.RecordTimer(metrics.MetricProviderLatency, time.Since(start), map[string]string{"channel": string(msg.Channel)})

	if sendErr == nil {
		d.markSent(ctx, msg, providerID)
		return
	}

	if provider.IsPermanent(sendErr) || errors.IsPrecondition(sendErr) {
		d.failPermanently(ctx, msg, sendErr)
		return
	}
	d.failTransiently(ctx, msg, sendErr)
}

// send picks the template or free-form path for one message.
func (d *Dispatcher) send(ctx context.Context, msg *models.Message) (string, error) {
	if msg.TemplateID == nil {
		return d.sender.Send(ctx, string(msg.Channel), msg.Destination, msg.Body)
	}

	tpl, err := d.store.GetTemplate(ctx, *msg.TemplateID)
	if err != nil {
		return "", err
	}
	if tpl == nil {
		return "", errors.NewPreconditionError(errors.ErrCodeTemplateNotFound, fmt.Sprintf("template %s does not exist", *msg.TemplateID))
	}
	params := map[string]string{}
	if msg.TemplateParams != nil && *msg.TemplateParams != "" {
		if err := json.Unmarshal([]byte(*msg.TemplateParams), &params); err != nil {
			return "", errors.Wrap(err, errors.ErrCodePrecondition, "invalid template parameters")
		}
	}
	if !tpl.IsSendable() {
		return "", errors.NewPreconditionError(errors.ErrCodeTemplateNotApproved,
			fmt.Sprintf("template %s is %s and cannot be sent", tpl.ID, tpl.Status))
	}
	return d.sender.SendTemplate(ctx, msg.Destination, *tpl.ContentRef, params)
}

// checkPreconditions validates the message before any provider call. A
// violation fails the message without consuming a retry attempt budget:
// retrying cannot fix a missing destination or an unapproved template.
func (d *Dispatcher) checkPreconditions(ctx context.Context, msg *models.Message) error {
	if msg.Destination == "" {
		return errors.NewPreconditionError(errors.ErrCodeMissingDestination, "message has no destination")
	}
	if msg.TemplateID == nil {
		return nil
	}
	tpl, err := d.store.GetTemplate(ctx, *msg.TemplateID)
	if err != nil {
		return err
	}
	if tpl == nil {
		return errors.NewPreconditionError(errors.ErrCodeTemplateNotFound, fmt.Sprintf("template %s does not exist", *msg.TemplateID))
	}
	if !tpl.IsSendable() {
		return errors.NewPreconditionError(errors.ErrCodeTemplateNotApproved,
			fmt.Sprintf("template %s is %s and cannot be sent", tpl.ID, tpl.Status))
	}
	return nil
}

func (d *Dispatcher) markSent(ctx context.Context, msg *models.Message, providerID string) {
	if err := d.store.MarkMessageSent(ctx, msg.ID, providerID); err != nil {
		d.logger.WithError(err).WithField("messageId", msg.ID).Error("Failed to mark message sent")
		return
	}
	d.appendEvent(ctx, msg.ID, models.EventSent, nil)
	metrics.IncrementCounter(metrics.MetricMessagesSent, map[string]string{"channel": string(msg.Channel)}, "Messages accepted by the provider")
	d.notify.Publish(TopicMessageStatus, map[string]interface{}{
		"messageId":  msg.ID,
		"status":     models.StatusSent,
		"providerId": providerID,
	})
	d.logger.WithFields(logrus.Fields{
		"messageId":  msg.ID,
		"providerId": providerID,
		"channel":    msg.Channel,
	}).Info("Message sent")
}

// failPermanently fails the message and exhausts its retry budget so the
// retry sweep never picks it up.
func (d *Dispatcher) failPermanently(ctx context.Context, msg *models.Message, cause error) {
	d.recordFailure(ctx, msg, cause)
	if err := d.store.ExhaustMessageRetries(ctx, msg.ID, d.cfg.MaxRetryAttempts); err != nil {
		d.logger.WithError(err).WithField("messageId", msg.ID).Error("Failed to exhaust message retries")
		return
	}
	metrics.IncrementCounter(metrics.MetricMessagesExhausted, nil, "Messages failed with no retry budget left")
	d.logger.WithFields(logrus.Fields{
		"messageId": msg.ID,
		"error":     cause.Error(),
	}).Warn("Message failed permanently")
}

// failTransiently fails the message and immediately asks the retry
// controller for a new attempt. The periodic failed sweep covers the case
// where this process dies between the two steps.
func (d *Dispatcher) failTransiently(ctx context.Context, msg *models.Message, cause error) {
	d.recordFailure(ctx, msg, cause)

	failed := *msg
	failed.Status = models.StatusFailed
	result, err := d.retries.Schedule(ctx, &failed)
	if err != nil {
		d.logger.WithError(err).WithField("messageId", msg.ID).Error("Failed to schedule retry")
		return
	}
	if result.Scheduled {
		metrics.IncrementCounter(metrics.MetricRetriesScheduled, nil, "Retry attempts scheduled")
		return
	}
	if result.Exhausted {
		// Last attempt in the budget just failed: pin the count at the
		// budget so the message reads as terminally failed everywhere.
		if err := d.store.ExhaustMessageRetries(ctx, msg.ID, d.cfg.MaxRetryAttempts); err != nil {
			d.logger.WithError(err).WithField("messageId", msg.ID).Error("Failed to exhaust message retries")
			return
		}
		metrics.IncrementCounter(metrics.MetricMessagesExhausted, nil, "Messages failed with no retry budget left")
		d.logger.WithFields(logrus.Fields{
			"messageId": msg.ID,
			"error":     cause.Error(),
		}).Warn("Message failed permanently")
		return
	}
	d.logger.WithFields(logrus.Fields{
		"messageId": msg.ID,
		"reason":    result.Reason,
	}).Info("Retry declined")
}

func (d *Dispatcher) recordFailure(ctx context.Context, msg *models.Message, cause error) {
	reason := cause.Error()
	if err := d.store.MarkMessageFailed(ctx, msg.ID, reason); err != nil {
		d.logger.WithError(err).WithField("messageId", msg.ID).Error("Failed to mark message failed")
		return
	}
	d.appendEvent(ctx, msg.ID, models.EventFailed, &reason)
	metrics.IncrementCounter(metrics.MetricMessagesFailed, map[string]string{"channel": string(msg.Channel)}, "Messages that failed dispatch")
	d.notify.Publish(TopicMessageStatus, map[string]interface{}{
		"messageId": msg.ID,
		"status":    models.StatusFailed,
		"error":     reason,
	})
}

// SweepFailed re-schedules failed messages that still have retry budget.
// The dispatcher normally schedules the retry inline after a transient
// failure; this sweep only catches messages orphaned by a crash.
func (d *Dispatcher) SweepFailed(ctx context.Context) {
	msgs, err := d.store.ListRetryableFailed(ctx, d.cfg.MaxRetryAttempts, d.cfg.BatchSize, time.Now().UTC())
	if err != nil {
		d.logger.WithError(err).Error("Failed to list retryable failed messages")
		return
	}
	for _, msg := range msgs {
		result, err := d.retries.Schedule(ctx, msg)
		if err != nil {
			d.logger.WithError(err).WithField("messageId", msg.ID).Error("Failed to schedule retry during sweep")
			continue
		}
		if result.Scheduled {
			metrics.IncrementCounter(metrics.MetricRetriesScheduled, nil, "Retry attempts scheduled")
		}
	}
}

func (d *Dispatcher) appendEvent(ctx context.Context, messageID string, kind models.MessageEventKind, errorDetail *string) {
	event := &models.MessageEvent{
		MessageID:   messageID,
		Kind:        kind,
		ErrorDetail: errorDetail,
	}
	if err := d.store.InsertMessageEvent(ctx, event); err != nil {
		d.logger.WithError(err).WithFields(logrus.Fields{
			"messageId": messageID,
			"kind":      kind,
		}).Error("Failed to append message event")
	}
}
