package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ClientConfig configures the HTTP provider client.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type httpClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates a provider client speaking the provider's HTTP API.
func NewClient(cfg ClientConfig) Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type sendResponse struct {
	ProviderMessageID string `json:"providerMessageId"`
	ErrorCode         string `json:"errorCode,omitempty"`
	Error             string `json:"error,omitempty"`
}

func (c *httpClient) Send(ctx context.Context, channel, destination, body string) (string, error) {
	payload := map[string]interface{}{
		"channel":     channel,
		"destination": destination,
		"body":        body,
	}
	return c.sendRequest(ctx, "/api/send", payload)
}

func (c *httpClient) SendTemplate(ctx context.Context, destination, templateRef string, params map[string]string) (string, error) {
	payload := map[string]interface{}{
		"destination": destination,
		"templateRef": templateRef,
		"params":      params,
	}
	return c.sendRequest(ctx, "/api/sendTemplate", payload)
}

func (c *httpClient) sendRequest(ctx context.Context, endpoint string, payload interface{}) (string, error) {
	var result sendResponse
	if err := c.postJSON(ctx, endpoint, payload, &result); err != nil {
		return "", err
	}
	if result.ProviderMessageID == "" {
		return "", &SendError{Code: result.ErrorCode, Message: "provider returned no message id"}
	}
	return result.ProviderMessageID, nil
}

type submitTemplateResponse struct {
	ExternalID string `json:"externalId"`
	Error      string `json:"error,omitempty"`
}

func (c *httpClient) SubmitTemplate(ctx context.Context, def TemplateDefinition) (string, error) {
	var result submitTemplateResponse
	if err := c.postJSON(ctx, "/api/templates", def, &result); err != nil {
		return "", err
	}
	if result.ExternalID == "" {
		return "", fmt.Errorf("provider returned no template id")
	}
	return result.ExternalID, nil
}

func (c *httpClient) GetTemplateStatus(ctx context.Context, externalID string) (*TemplateStatusInfo, error) {
	var result TemplateStatusInfo
	endpoint := fmt.Sprintf("/api/templates/%s/status", url.PathEscape(externalID))
	if err := c.getJSON(ctx, endpoint, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type contentRefResponse struct {
	ContentRef string `json:"contentRef"`
}

func (c *httpClient) GetTemplateContentRef(ctx context.Context, externalID string) (string, error) {
	var result contentRefResponse
	endpoint := fmt.Sprintf("/api/templates/%s/content", url.PathEscape(externalID))
	if err := c.getJSON(ctx, endpoint, &result); err != nil {
		return "", err
	}
	return result.ContentRef, nil
}

func (c *httpClient) postJSON(ctx context.Context, endpoint string, payload, result interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, result)
}

func (c *httpClient) getJSON(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, result)
}

func (c *httpClient) do(req *http.Request, result interface{}) error {
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var errBody sendResponse
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		msg := errBody.Error
		if msg == "" {
			msg = fmt.Sprintf("request failed with status %d", resp.StatusCode)
		}
		return &SendError{Code: errBody.ErrorCode, Message: msg}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
