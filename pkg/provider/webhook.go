package provider

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strconv"
)

// WebhookPayload is the body the provider POSTs to the webhook ingress,
// either as JSON or form-encoded fields.
type WebhookPayload struct {
	ProviderMessageID string `json:"providerMessageId"`
	EventKind         string `json:"eventKind"`
	ErrorCode         string `json:"errorCode,omitempty"`
	Timestamp         int64  `json:"timestamp,omitempty"`

	// Inbound-only fields.
	Sender  string `json:"sender,omitempty"`
	Body    string `json:"body,omitempty"`
	Channel string `json:"channel,omitempty"`
}

// ParseWebhook decodes a webhook request body. The provider sends JSON by
// default but falls back to form encoding from older gateway versions.
func ParseWebhook(r *http.Request) (*WebhookPayload, error) {
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil && contentType != "" {
		return nil, fmt.Errorf("invalid content type: %w", err)
	}

	if mediaType == "application/x-www-form-urlencoded" || mediaType == "multipart/form-data" {
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("failed to parse form payload: %w", err)
		}
		payload := &WebhookPayload{
			ProviderMessageID: r.PostFormValue("providerMessageId"),
			EventKind:         r.PostFormValue("eventKind"),
			ErrorCode:         r.PostFormValue("errorCode"),
			Sender:            r.PostFormValue("sender"),
			Body:              r.PostFormValue("body"),
			Channel:           r.PostFormValue("channel"),
		}
		if ts := r.PostFormValue("timestamp"); ts != "" {
			payload.Timestamp, _ = strconv.ParseInt(ts, 10, 64)
		}
		return validateWebhook(payload)
	}

	payload := &WebhookPayload{}
	if err := json.NewDecoder(r.Body).Decode(payload); err != nil {
		return nil, fmt.Errorf("failed to decode webhook payload: %w", err)
	}
	return validateWebhook(payload)
}

func validateWebhook(p *WebhookPayload) (*WebhookPayload, error) {
	if p.EventKind == "" {
		return nil, fmt.Errorf("webhook payload missing eventKind")
	}
	if p.ProviderMessageID == "" {
		return nil, fmt.Errorf("webhook payload missing providerMessageId")
	}
	return p, nil
}
