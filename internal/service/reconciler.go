package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"msgflow/internal/metrics"
	"msgflow/internal/models"
	"msgflow/pkg/provider"

	"github.com/sirupsen/logrus"
)

// ReconcileStore is the slice of the store the reconciler needs.
type ReconcileStore interface {
	GetMessageByProviderID(ctx context.Context, providerID string) (*models.Message, error)
	CreateMessage(ctx context.Context, msg *models.Message) error
	InsertMessageEvent(ctx context.Context, event *models.MessageEvent) error
	TransitionMessageStatus(ctx context.Context, id string, from, to models.MessageStatus) (bool, error)
	GetOrCreateConversation(ctx context.Context, remoteAddress string, channel models.Channel) (*models.Conversation, error)
}

// Reconciler applies provider webhook reports to message state. Webhooks
// arrive at least once and in no particular order; the reconciler is
// idempotent over the dedup window and relies on the transition table as
// the only defense against out-of-order reports.
type Reconciler struct {
	store  ReconcileStore
	dedup  DedupStore
	notify Notifier
	logger *logrus.Logger
}

func NewReconciler(store ReconcileStore, dedup DedupStore, notify Notifier, logger *logrus.Logger) *Reconciler {
	if notify == nil {
		notify = NoopNotifier{}
	}
	return &Reconciler{
		store:  store,
		dedup:  dedup,
		notify: notify,
		logger: logger,
	}
}

// Reconcile processes one webhook payload. Every return path is a success
// from the provider's point of view; only infrastructure errors propagate,
// and those make the provider redeliver.
func (r *Reconciler) Reconcile(ctx context.Context, payload *provider.WebhookPayload) error {
	metrics.IncrementCounter(metrics.MetricWebhooksReceived, map[string]string{"kind": payload.EventKind}, "Webhook deliveries received")

	kind, ok := models.EventKindFromWebhook(payload.EventKind)
	if !ok {
		r.logger.WithFields(logrus.Fields{
			"providerMessageId": payload.ProviderMessageID,
			"eventKind":         payload.EventKind,
		}).Warn("Discarding webhook with unknown event kind")
		return nil
	}

	key := dedupKey(payload, kind)
	fresh, err := r.dedup.MarkIfNew(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to check webhook dedup: %w", err)
	}
	if !fresh {
		metrics.IncrementCounter(metrics.MetricWebhooksDuplicate, nil, "Webhook deliveries discarded as duplicates")
		r.logger.WithFields(logrus.Fields{
			"providerMessageId": payload.ProviderMessageID,
			"eventKind":         payload.EventKind,
		}).Debug("Discarding duplicate webhook")
		return nil
	}

	if kind == models.EventReceived {
		err = r.reconcileInbound(ctx, payload)
	} else {
		err = r.reconcileStatus(ctx, payload, kind)
	}
	if err != nil {
		// Release the key so the provider's redelivery is not thrown
		// away as a duplicate. The event log is append-only and the
		// transition is guarded, so replaying the payload is safe.
		if forgetErr := r.dedup.Forget(ctx, key); forgetErr != nil {
			r.logger.WithError(forgetErr).WithField("key", key).Error("Failed to release webhook dedup key")
		}
		return err
	}
	return nil
}

// reconcileStatus applies a delivery report to an existing outbound message.
func (r *Reconciler) reconcileStatus(ctx context.Context, payload *provider.WebhookPayload, kind models.MessageEventKind) error {
	msg, err := r.store.GetMessageByProviderID(ctx, payload.ProviderMessageID)
	if err != nil {
		return fmt.Errorf("failed to look up message for webhook: %w", err)
	}
	if msg == nil {
		metrics.IncrementCounter(metrics.MetricWebhooksForeign, nil, "Webhook deliveries for unknown messages")
		r.logger.WithFields(logrus.Fields{
			"providerMessageId": payload.ProviderMessageID,
			"eventKind":         payload.EventKind,
		}).Warn("Discarding webhook for unknown message")
		return nil
	}

	// The event log records every report we accept, including ones that do
	// not move the status.
	if err := r.appendEvent(ctx, msg.ID, kind, payload.ErrorCode); err != nil {
		return err
	}

	if kind == models.EventQueued {
		return nil
	}

	next, legal := models.NextStatus(msg.Status, kind)
	if !legal {
		metrics.IncrementCounter(metrics.MetricWebhooksIllegal, nil, "Webhook reports rejected by the transition table")
		r.logger.WithFields(logrus.Fields{
			"messageId": msg.ID,
			"status":    msg.Status,
			"eventKind": kind,
		}).Info("Ignoring webhook with illegal transition")
		return nil
	}

	applied, err := r.store.TransitionMessageStatus(ctx, msg.ID, msg.Status, next)
	if err != nil {
		return fmt.Errorf("failed to apply webhook transition: %w", err)
	}
	if !applied {
		r.logger.WithFields(logrus.Fields{
			"messageId": msg.ID,
			"from":      msg.Status,
			"to":        next,
		}).Info("Webhook transition lost race, leaving status unchanged")
		return nil
	}

	r.notify.Publish(TopicMessageStatus, map[string]interface{}{
		"messageId": msg.ID,
		"status":    next,
	})
	r.logger.WithFields(logrus.Fields{
		"messageId": msg.ID,
		"from":      msg.Status,
		"to":        next,
	}).Info("Reconciled message status")
	return nil
}

// reconcileInbound records a message that originated at the remote party.
// The conversation for the sender is created on first contact.
func (r *Reconciler) reconcileInbound(ctx context.Context, payload *provider.WebhookPayload) error {
	if payload.Sender == "" {
		r.logger.WithField("providerMessageId", payload.ProviderMessageID).Warn("Discarding inbound webhook without sender")
		return nil
	}

	channel := models.Channel(payload.Channel)
	if channel != models.ChannelSMS && channel != models.ChannelChat {
		channel = models.ChannelSMS
	}

	conv, err := r.store.GetOrCreateConversation(ctx, payload.Sender, channel)
	if err != nil {
		return fmt.Errorf("failed to bootstrap conversation: %w", err)
	}

	providerID := payload.ProviderMessageID
	msg := &models.Message{
		Channel:     channel,
		Destination: payload.Sender,
		Body:        payload.Body,
		Status:      models.StatusReceived,
		ProviderID:  &providerID,
	}
	if err := r.store.CreateMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to record inbound message: %w", err)
	}
	if err := r.appendEvent(ctx, msg.ID, models.EventReceived, ""); err != nil {
		return err
	}

	r.notify.Publish(TopicMessageReceived, map[string]interface{}{
		"messageId":      msg.ID,
		"conversationId": conv.ID,
		"sender":         payload.Sender,
		"channel":        channel,
	})
	r.logger.WithFields(logrus.Fields{
		"messageId":      msg.ID,
		"conversationId": conv.ID,
		"channel":        channel,
	}).Info("Recorded inbound message")
	return nil
}

func (r *Reconciler) appendEvent(ctx context.Context, messageID string, kind models.MessageEventKind, errorCode string) error {
	event := &models.MessageEvent{
		MessageID: messageID,
		Kind:      kind,
	}
	if errorCode != "" {
		event.ErrorDetail = &errorCode
	}
	if err := r.store.InsertMessageEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to append webhook event: %w", err)
	}
	return nil
}

// dedupKey identifies one webhook delivery. Status reports are keyed by
// provider message id and kind; inbound messages also hash the sender and
// body so distinct messages reusing a provider id are not collapsed.
func dedupKey(payload *provider.WebhookPayload, kind models.MessageEventKind) string {
	if kind != models.EventReceived {
		return fmt.Sprintf("%s:%s", payload.ProviderMessageID, kind)
	}
	sum := sha256.Sum256([]byte(payload.Sender + "\x00" + payload.Body))
	return fmt.Sprintf("%s:%s:%s", payload.ProviderMessageID, kind, hex.EncodeToString(sum[:8]))
}
