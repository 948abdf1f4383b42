package converge

import (
	"context"
	"fmt"
)

// PollOutcome is the terminal answer of a polling round.
type PollOutcome int

const (
	PollSucceeded PollOutcome = iota
	PollBackendFailed
	PollTimedOut
)

func (o PollOutcome) String() string {
	switch o {
	case PollSucceeded:
		return "Succeeded"
	case PollBackendFailed:
		return "BackendFailed"
	default:
		return "TimedOut"
	}
}

// PollResult reports how a polling round ended and how many checks it spent.
type PollResult struct {
	Outcome PollOutcome
	Polls   int
	Detail  string
}

// ConvergencePoller checks an accepted mutation at a fixed interval.
type ConvergencePoller struct {
	resource string
	policy   PollPolicy
	settings settings
}

func NewConvergencePoller(resource string, policy PollPolicy, opts ...Option) (*ConvergencePoller, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid poll policy for %s: %w", resource, err)
	}
	return &ConvergencePoller{resource: resource, policy: policy, settings: newSettings(opts)}, nil
}

// PollUntilConverged waits PollInterval, checks status, and repeats until the
// backend reports a terminal state or MaxPollAttempts checks have been made.
//
// Running out of checks is reported as PollTimedOut with a nil error. A
// non-nil error means a status check could not be completed (or ctx ended);
// the returned PollResult still counts the checks made.
func (p *ConvergencePoller) PollUntilConverged(ctx context.Context, status StatusFunc) (PollResult, error) {
	result := PollResult{Outcome: PollTimedOut}

	for result.Polls < p.policy.MaxPollAttempts {
		if err := p.settings.sleep(ctx, p.policy.PollInterval); err != nil {
			return result, fmt.Errorf("cancelled while waiting to poll: %w", err)
		}

		result.Polls++
		st, err := status(ctx)
		if err != nil {
			p.record(result.Polls, AttemptTransientFailure, err)
			return result, fmt.Errorf("status check %d failed: %w", result.Polls, err)
		}
		p.record(result.Polls, AttemptSucceeded, nil)

		switch st.State {
		case ConvergenceSucceeded:
			result.Outcome = PollSucceeded
			return result, nil
		case ConvergenceFailed:
			result.Outcome = PollBackendFailed
			result.Detail = st.Detail
			return result, nil
		}

		p.settings.logger.Debug("Resource has not converged yet",
			"resource", p.resource,
			"poll", result.Polls,
			"max_polls", p.policy.MaxPollAttempts)
	}

	return result, nil
}

func (p *ConvergencePoller) record(n int, outcome AttemptOutcome, err error) {
	p.settings.attempt(p.resource, OperationAttempt{
		Number:  n,
		Kind:    AttemptPollCheck,
		Outcome: outcome,
		Err:     err,
	})
}
