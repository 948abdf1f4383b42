package converge

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// RetryScheduler runs a SubmitFunc with bounded, jittered retry.
//
// A scheduler belongs to exactly one orchestration run. Its attempt counter is
// shared by the initial submission and by every re-submission the run
// triggers, so MaxAttempts bounds the whole run and not each call.
type RetryScheduler struct {
	resource string
	policy   RetryPolicy
	settings settings
	rng      *rand.Rand

	// delay is drawn once at construction and reused unless PerAttemptJitter is set.
	delay    time.Duration
	attempts int
}

// NewRetryScheduler validates the policy and draws the run's backoff delay.
func NewRetryScheduler(resource string, policy RetryPolicy, opts ...Option) (*RetryScheduler, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy for %s: %w", resource, err)
	}
	return newRetryScheduler(resource, policy, newSettings(opts)), nil
}

func newRetryScheduler(resource string, policy RetryPolicy, s settings) *RetryScheduler {
	rng := rand.New(rand.NewSource(s.seed()))
	return &RetryScheduler{
		resource: resource,
		policy:   policy,
		settings: s,
		rng:      rng,
		delay:    policy.sampleBackoff(rng),
	}
}

// Attempts returns the number of submissions made so far.
func (s *RetryScheduler) Attempts() int {
	return s.attempts
}

// Backoff returns the delay drawn for this run.
func (s *RetryScheduler) Backoff() time.Duration {
	return s.delay
}

// SubmitWithRetry calls submit until it succeeds, fails fatally, or the
// attempt budget runs out. Transient failures wait the backoff delay
// before the next attempt.
func (s *RetryScheduler) SubmitWithRetry(ctx context.Context, submit SubmitFunc) error {
	for {
		if err := ctx.Err(); err != nil {
			return s.fail(ErrFatal, err)
		}

		s.attempts++
		outcome := submit(ctx)

		switch outcome.Kind {
		case OutcomeSuccess:
			s.record(AttemptSucceeded, nil)
			return nil

		case OutcomeTransient:
			s.record(AttemptTransientFailure, outcome.Err)
			if err := s.waitForRetry(ctx, outcome.Err); err != nil {
				return err
			}

		case OutcomeFatal:
			s.record(AttemptFatalFailure, outcome.Err)
			return s.fail(ErrFatal, outcome.Err)

		default:
			err := fmt.Errorf("%w (kind %d)", ErrUnclassifiedOutcome, int(outcome.Kind))
			s.record(AttemptFatalFailure, err)
			return s.fail(ErrFatal, err)
		}
	}
}

// resubmit starts another submission round after cause, spending one
// backoff delay first. It shares the attempt budget with earlier rounds.
func (s *RetryScheduler) resubmit(ctx context.Context, cause error, submit SubmitFunc) error {
	if err := s.waitForRetry(ctx, cause); err != nil {
		return err
	}
	return s.SubmitWithRetry(ctx, submit)
}

// waitForRetry enforces the attempt ceiling, logs the retry and sleeps.
func (s *RetryScheduler) waitForRetry(ctx context.Context, cause error) error {
	if s.attempts >= s.policy.MaxAttempts {
		return s.fail(ErrRetryBudgetExceeded, cause)
	}

	delay := s.delay
	if s.policy.PerAttemptJitter {
		delay = s.policy.sampleBackoff(s.rng)
	}

	s.settings.logger.Warn("Transient failure detected, scheduling retry",
		"resource", s.resource,
		"attempt", s.attempts,
		"max_attempts", s.policy.MaxAttempts,
		"delay", delay,
		"error", cause)

	if err := s.settings.sleep(ctx, delay); err != nil {
		return s.fail(ErrFatal, fmt.Errorf("cancelled during backoff: %w", err))
	}
	return nil
}

func (s *RetryScheduler) record(outcome AttemptOutcome, err error) {
	s.settings.attempt(s.resource, OperationAttempt{
		Number:  s.attempts,
		Kind:    AttemptSubmission,
		Outcome: outcome,
		Err:     err,
	})
}

func (s *RetryScheduler) fail(kind, err error) error {
	return &OperationError{
		Kind:     kind,
		Resource: s.resource,
		Attempts: s.attempts,
		Err:      err,
	}
}
