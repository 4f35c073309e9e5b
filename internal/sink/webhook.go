package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ppiankov/sentinel/internal/model"
)

const (
	requestTimeout = 5 * time.Second
	maxRetries     = 3
)

// WebhookSink posts each event as JSON to an HTTP endpoint.
type WebhookSink struct {
	name    string
	url     string
	format  string
	headers map[string]string
	client  *http.Client
	// retryDelay is the base pause between attempts; attempt n waits n*retryDelay.
	retryDelay time.Duration
}

// NewWebhookSink creates a webhook sink.
func NewWebhookSink(name, url, format string, headers map[string]string) *WebhookSink {
	return &WebhookSink{
		name:       name,
		url:        url,
		format:     format,
		headers:    headers,
		client:     &http.Client{Timeout: requestTimeout},
		retryDelay: time.Second,
	}
}

func (w *WebhookSink) Name() string { return w.name }
func (w *WebhookSink) Close() error { return nil }

// Write posts ev with retry on 5xx and transport errors. A 4xx response is
// returned as a permanent error.
func (w *WebhookSink) Write(ctx context.Context, ev model.Event) error {
	body, err := FormatPayload(w.format, ev)
	if err != nil {
		return Permanent(fmt.Errorf("format payload: %w", err))
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * w.retryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range w.headers {
			req.Header.Set(k, v)
		}

		resp, err := w.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return Permanent(fmt.Errorf("webhook rejected: HTTP %d", resp.StatusCode))
		}
		// 5xx: retry
		lastErr = fmt.Errorf("webhook server error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("webhook failed after %d attempts: %w", maxRetries, lastErr)
}
