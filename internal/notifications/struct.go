package notifications

import (
	"log/slog"
	"time"

	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/converge"
)

type Webhook struct {
	URL      string
	Username string
	Password string

	// Retry bounds delivery attempts. The zero value uses DefaultRetry.
	Retry converge.RetryPolicy
	// Sleeper replaces the wait between delivery attempts.
	Sleeper converge.Sleeper
	// Logger receives delivery retries. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultRetry is the delivery policy used when Webhook.Retry is not set.
var DefaultRetry = converge.RetryPolicy{
	MaxAttempts: 3,
	BackoffMin:  time.Second,
	BackoffMax:  3 * time.Second,
}

// OperationFailure is posted when an operation ends in any state other than Succeeded.
type OperationFailure struct {
	Service     string `json:"service"`
	RunID       string `json:"run_id"`
	Provider    string `json:"provider"`
	Resource    string `json:"resource"`
	State       string `json:"state"`
	Message     string `json:"message"`
	Submissions int    `json:"submissions"`
	Polls       int    `json:"polls"`
}
