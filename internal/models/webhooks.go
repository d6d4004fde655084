package models

// Provider webhook event kinds, as named in the provider's vocabulary.
const (
	WebhookEventQueued    = "queued"
	WebhookEventSent      = "sent"
	WebhookEventDelivered = "delivered"
	WebhookEventRead      = "read"
	WebhookEventFailed    = "failed"
	WebhookEventReceived  = "received"
)

// EventKindFromWebhook maps the provider's status vocabulary onto the
// internal event enumeration. Unknown kinds map to false.
func EventKindFromWebhook(kind string) (MessageEventKind, bool) {
	switch kind {
	case WebhookEventQueued:
		return EventQueued, true
	case WebhookEventSent:
		return EventSent, true
	case WebhookEventDelivered:
		return EventDelivered, true
	case WebhookEventRead:
		return EventRead, true
	case WebhookEventFailed:
		return EventFailed, true
	case WebhookEventReceived:
		return EventReceived, true
	}
	return "", false
}
