package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sender performs the actual transmission of one message through the
// provider. Latency and failure are non-deterministic.
type Sender interface {
	Send(ctx context.Context, channel, destination, body string) (string, error)
	SendTemplate(ctx context.Context, destination, templateRef string, params map[string]string) (string, error)
}

// TemplateProvider submits template definitions for external review and
// reports their current review status.
type TemplateProvider interface {
	SubmitTemplate(ctx context.Context, def TemplateDefinition) (string, error)
	GetTemplateStatus(ctx context.Context, externalID string) (*TemplateStatusInfo, error)
	GetTemplateContentRef(ctx context.Context, externalID string) (string, error)
}

// Client is the full provider capability surface.
type Client interface {
	Sender
	TemplateProvider
}

// TemplateDefinition is the payload submitted for external review.
type TemplateDefinition struct {
	Name         string   `json:"name"`
	Body         string   `json:"body"`
	Placeholders []string `json:"placeholders,omitempty"`
}

// Template review statuses in the provider's vocabulary.
const (
	TemplateStatusApproved = "approved"
	TemplateStatusRejected = "rejected"
	TemplateStatusPending  = "pending"
	TemplateStatusInReview = "in_review"
	TemplateStatusDisabled = "disabled"
	TemplateStatusDeleted  = "deleted"
)

// TemplateStatusInfo is the provider's authoritative view of a submitted
// template.
type TemplateStatusInfo struct {
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SendError carries the provider's opaque error code alongside the message.
type SendError struct {
	Code    string
	Message string
}

func (e *SendError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("provider error: %s", e.Message)
}

// permanentCodes is the small allow-list of provider error codes that mark a
// message as permanently undeliverable. Everything else is treated as
// transient.
var permanentCodes = map[string]bool{
	"invalid_destination": true,
	"blocked_recipient":   true,
	"template_rejected":   true,
}

// IsPermanent reports whether the error carries a provider code from the
// permanent-failure allow-list.
func IsPermanent(err error) bool {
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return permanentCodes[sendErr.Code]
	}
	return false
}
