package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rotisserie/eris"
)

// Webhook posts each message as JSON to a URL.
type Webhook struct {
	client *retryablehttp.Client
	url    string
}

// NewWebhook creates the channel.
func NewWebhook(url string) *Webhook {
	return &Webhook{client: newHTTPClient(), url: url}
}

// Name implements Notifier.
func (w *Webhook) Name() string { return "webhook" }

// Notify implements Notifier.
func (w *Webhook) Notify(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return eris.Wrap(err, "webhook: marshal message")
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "webhook: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "webhook: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("webhook: returned status %d", resp.StatusCode)
	}
	return nil
}
