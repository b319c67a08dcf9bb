// internal/provider/webhook_provider.go
package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	appErrors "github.com/agrovia/agrinotify-backend/internal/errors"
)

const webhookResponseLimit = 4 * 1024

// WebhookProvider delivers by POSTing the opaque content to the recipient id,
// which for this channel is the destination URL.
type WebhookProvider struct {
	id     string
	client *http.Client
}

func NewWebhookProvider(id string, timeout time.Duration) *WebhookProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookProvider{
		id:     id,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *WebhookProvider) ID() string { return p.id }

func (p *WebhookProvider) Send(ctx context.Context, recipientID, channel, content string) (*SendResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, recipientID, bytes.NewBufferString(content))
	if err != nil {
		// Malformed destination URL: retrying cannot help.
		return nil, appErrors.NewPermanentProviderError(p.id, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, appErrors.NewTransientProviderError(p.id, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, webhookResponseLimit))
	result := &SendResult{
		ProviderResponse:  fmt.Sprintf("status=%d body=%s", resp.StatusCode, string(body)),
		ProviderMessageID: resp.Header.Get("X-Message-Id"),
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		result.Success = true
		return result, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		// The endpoint rejected the message itself.
		return result, appErrors.NewPermanentProviderError(p.id, fmt.Errorf("endpoint rejected with status %d", resp.StatusCode))
	default:
		return result, appErrors.NewTransientProviderError(p.id, fmt.Errorf("endpoint returned status %d", resp.StatusCode))
	}
}
