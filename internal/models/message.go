package models

import (
	"time"
)

type Channel string

const (
	ChannelSMS  Channel = "sms"
	ChannelChat Channel = "chat"
)

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
	StatusReceived  MessageStatus = "received"
)

type MessageEventKind string

const (
	EventQueued    MessageEventKind = "queued"
	EventSent      MessageEventKind = "sent"
	EventDelivered MessageEventKind = "delivered"
	EventRead      MessageEventKind = "read"
	EventFailed    MessageEventKind = "failed"
	EventReceived  MessageEventKind = "received"
)

// Message is the durable record of one outbound (or inbound) message.
// Status caches the latest projection of the event log; the events table
// is the audit trail.
type Message struct {
	ID             string        `json:"id" db:"id"`
	Channel        Channel       `json:"channel" db:"channel"`
	Destination    string        `json:"destination" db:"destination"`
	Body           string        `json:"body,omitempty" db:"body"`
	Status         MessageStatus `json:"status" db:"status"`
	Priority       Priority      `json:"priority" db:"priority"`
	TemplateID     *string       `json:"templateId,omitempty" db:"template_id"`
	TemplateParams *string       `json:"templateParams,omitempty" db:"template_params"`
	ProviderID     *string       `json:"providerId,omitempty" db:"provider_id"`
	RetryCount     int           `json:"retryCount" db:"retry_count"`
	ScheduledAt    *time.Time    `json:"scheduledAt,omitempty" db:"scheduled_at"`
	LastError      *string       `json:"lastError,omitempty" db:"last_error"`
	CreatedAt      time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time     `json:"updatedAt" db:"updated_at"`
}

// MessageEvent is one immutable entry in a message's lifecycle log.
type MessageEvent struct {
	ID          string           `json:"id" db:"id"`
	MessageID   string           `json:"messageId" db:"message_id"`
	Kind        MessageEventKind `json:"kind" db:"kind"`
	Payload     *string          `json:"payload,omitempty" db:"payload"`
	ErrorDetail *string          `json:"errorDetail,omitempty" db:"error_detail"`
	CreatedAt   time.Time        `json:"createdAt" db:"created_at"`
}

// Conversation groups inbound messages by the remote address they came from.
type Conversation struct {
	ID            string    `json:"id" db:"id"`
	RemoteAddress string    `json:"remoteAddress" db:"remote_address"`
	Channel       Channel   `json:"channel" db:"channel"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
	LastMessageAt time.Time `json:"lastMessageAt" db:"last_message_at"`
}

// messageTransitions is the closed transition table: from-status x event kind
// to next status. Anything not listed is rejected at the chokepoint.
var messageTransitions = map[MessageStatus]map[MessageEventKind]MessageStatus{
	StatusPending: {
		EventSent:   StatusSent,
		EventFailed: StatusFailed,
	},
	StatusSending: {
		EventSent:   StatusSent,
		EventFailed: StatusFailed,
	},
	StatusSent: {
		EventDelivered: StatusDelivered,
		EventRead:      StatusRead,
		EventFailed:    StatusFailed,
	},
	StatusDelivered: {
		EventRead:   StatusRead,
		EventFailed: StatusFailed,
	},
}

// NextStatus returns the status a message moves to when the given event kind
// is applied, or false when the transition is not legal from the current
// status. EventQueued is audit-only and never changes status.
func NextStatus(from MessageStatus, kind MessageEventKind) (MessageStatus, bool) {
	to, ok := messageTransitions[from][kind]
	return to, ok
}

// IsTerminal reports whether no transition out of the status is permitted by
// the event table. Failed is listed here because only the retry controller,
// not an event, may move a message out of it.
func (s MessageStatus) IsTerminal() bool {
	switch s {
	case StatusRead, StatusReceived, StatusFailed:
		return true
	}
	return false
}

// CanRetry reports whether a failed message may be handed back to the queue.
// Scheduling a retry raises RetryCount to RetryCount+1, and the queue only
// dispatches rows with retry_count below the budget, so the next count must
// still be dispatchable or the message stays failed for good.
func (m *Message) CanRetry(maxAttempts int) bool {
	return m.Status == StatusFailed && m.RetryCount+1 < maxAttempts
}
