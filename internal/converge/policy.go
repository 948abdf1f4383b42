package converge

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// RetryPolicy bounds the submission retries of one orchestration run.
type RetryPolicy struct {
	// MaxAttempts is the total number of submissions allowed in a run,
	// including re-submissions triggered by a failed status check.
	MaxAttempts int

	// BackoffMin and BackoffMax bound the uniformly drawn retry delay (both inclusive).
	BackoffMin time.Duration
	BackoffMax time.Duration

	// PerAttemptJitter draws a fresh delay for every retry. When false the delay
	// is drawn once per run and reused for every retry in that run.
	PerAttemptJitter bool
}

// PollPolicy bounds the status checks that follow an accepted submission.
type PollPolicy struct {
	MaxPollAttempts int
	// PollInterval is waited before every status check. It is never jittered.
	PollInterval time.Duration
}

// DefaultRetryPolicy mirrors the load balancer task's defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BackoffMin:  5 * time.Second,
		BackoffMax:  15 * time.Second,
	}
}

func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		MaxPollAttempts: 30,
		PollInterval:    10 * time.Second,
	}
}

// Validate rejects policies the scheduler cannot honour.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.BackoffMin < 0 {
		return fmt.Errorf("minimum backoff must not be negative, got %s", p.BackoffMin)
	}
	if p.BackoffMax < p.BackoffMin {
		return fmt.Errorf("maximum backoff %s is below minimum backoff %s", p.BackoffMax, p.BackoffMin)
	}
	return nil
}

func (p PollPolicy) Validate() error {
	if p.MaxPollAttempts < 1 {
		return fmt.Errorf("max poll attempts must be at least 1, got %d", p.MaxPollAttempts)
	}
	if p.PollInterval < 0 {
		return fmt.Errorf("poll interval must not be negative, got %s", p.PollInterval)
	}
	return nil
}

// sampleBackoff draws a delay uniformly from [BackoffMin, BackoffMax].
func (p RetryPolicy) sampleBackoff(rng *rand.Rand) time.Duration {
	span := int64(p.BackoffMax - p.BackoffMin)
	if span <= 0 {
		return p.BackoffMin
	}
	return p.BackoffMin + time.Duration(rng.Int63n(span+1))
}

// Sleeper blocks for d or until ctx is done, whichever comes first.
type Sleeper func(ctx context.Context, d time.Duration) error

// sleepContext is the default Sleeper.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
