package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/converge"
)

// Enabled reports whether a webhook URL is configured.
func (w *Webhook) Enabled() bool {
	return w != nil && w.URL != ""
}

// Notify posts the failure as JSON. Network errors, 429 and 5xx responses
// are retried under the webhook's retry policy; any other non-2xx response
// fails at once.
func (w *Webhook) Notify(ctx context.Context, notification OperationFailure) error {
	if !w.Enabled() {
		return nil
	}

	payload, err := json.Marshal(notification)
	if err != nil {
		return err
	}

	policy := w.Retry
	if policy.MaxAttempts == 0 {
		policy = DefaultRetry
	}
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts := []converge.Option{converge.WithLogger(logger.With("url", w.URL))}
	if w.Sleeper != nil {
		opts = append(opts, converge.WithSleeper(w.Sleeper))
	}

	scheduler, err := converge.NewRetryScheduler("webhook", policy, opts...)
	if err != nil {
		return err
	}

	return scheduler.SubmitWithRetry(ctx, func(ctx context.Context) converge.SubmissionOutcome {
		return w.post(ctx, payload)
	})
}

func (w *Webhook) post(ctx context.Context, payload []byte) converge.SubmissionOutcome {
	client := http.Client{
		Timeout: 30 * time.Second,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(payload))
	if err != nil {
		return converge.Fatal(err)
	}

	req.Header.Set("Content-Type", "application/json")

	if w.Username != "" || w.Password != "" {
		req.SetBasicAuth(w.Username, w.Password)
	}

	resp, err := client.Do(req)
	if err != nil {
		return converge.Transient(fmt.Errorf("failed to send notification via webhook: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return converge.Success()
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return converge.Transient(fmt.Errorf("webhook responded %d", resp.StatusCode))
	default:
		return converge.Fatal(fmt.Errorf("webhook rejected notification: %d", resp.StatusCode))
	}
}
