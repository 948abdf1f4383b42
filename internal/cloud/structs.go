package cloud

import (
	"context"
	"time"

	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/converge"
)

// RetryConfig is the user facing shape of a submission retry policy.
// It is decoded from flags, environment or the config file.
type RetryConfig struct {
	// MaxAttempts is the total number of submissions allowed for one operation,
	// including re-submissions caused by a failed status check.
	MaxAttempts int `mapstructure:"max_attempts"`

	// BackoffMin and BackoffMax bound the random delay between attempts.
	BackoffMin time.Duration `mapstructure:"backoff_min"`
	BackoffMax time.Duration `mapstructure:"backoff_max"`

	// PerAttemptJitter draws a new delay for every retry instead of once per operation.
	PerAttemptJitter bool `mapstructure:"per_attempt_jitter"`
}

// PollConfig is the user facing shape of a poll policy.
type PollConfig struct {
	MaxPollAttempts int           `mapstructure:"max_poll_attempts"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
}

// Policy converts the config into a converge.RetryPolicy.
func (c RetryConfig) Policy() converge.RetryPolicy {
	return converge.RetryPolicy{
		MaxAttempts:      c.MaxAttempts,
		BackoffMin:       c.BackoffMin,
		BackoffMax:       c.BackoffMax,
		PerAttemptJitter: c.PerAttemptJitter,
	}
}

func (c PollConfig) Policy() converge.PollPolicy {
	return converge.PollPolicy{
		MaxPollAttempts: c.MaxPollAttempts,
		PollInterval:    c.PollInterval,
	}
}

// ServicePrincipal holds the Azure Resource Manager endpoint details.
type ServicePrincipal struct {
	ClientID       string `mapstructure:"client_id"`
	ClientSecret   string `mapstructure:"client_secret"`
	TenantID       string `mapstructure:"tenant_id"`
	SubscriptionID string `mapstructure:"subscription_id"`
	// BaseURL overrides the Resource Manager endpoint (sovereign clouds, Azure Stack).
	BaseURL string `mapstructure:"base_url"`
	// AuthorityHost overrides the Entra ID login endpoint.
	AuthorityHost string `mapstructure:"authority_host"`
}

// Operation is one mutation prepared by a resource client: the request it
// acts on and the closures that submit it and report its convergence.
type Operation struct {
	// Provider names the backend ("azure", "openstack") for logs and notifications.
	Provider string
	Request  converge.OperationRequest
	Submit   converge.SubmitFunc
	Status   converge.StatusFunc

	// Cleanup, when set, removes whatever a submission left behind. The
	// workflow calls it only when the operation did not converge.
	Cleanup func(ctx context.Context) error
}
