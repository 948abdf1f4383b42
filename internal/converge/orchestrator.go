// Package converge submits a mutation to a cloud backend and polls until the
// backend reports that the mutation has converged.
//
// The flow for one operation is:
//
//	Idle -> Submitting -> Polling -> Succeeded | BackendFailed | TimedOut
//	            |            |
//	            v            v (status check failed)
//	      FatalFailure   Submitting (re-submit, same attempt budget)
//
// All cloud I/O happens in caller supplied SubmitFunc and StatusFunc closures.
package converge

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Orchestrator composes a RetryScheduler and a ConvergencePoller.
// It holds only configuration; every call builds its own counters, so one
// Orchestrator can serve concurrent calls for different resources.
type Orchestrator struct {
	retry    RetryPolicy
	poll     PollPolicy
	settings settings
}

// New validates both policies and returns an Orchestrator.
func New(retry RetryPolicy, poll PollPolicy, opts ...Option) (*Orchestrator, error) {
	if err := retry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}
	if err := poll.Validate(); err != nil {
		return nil, fmt.Errorf("invalid poll policy: %w", err)
	}
	return &Orchestrator{retry: retry, poll: poll, settings: newSettings(opts)}, nil
}

func (o *Orchestrator) RetryPolicy() RetryPolicy { return o.retry }

func (o *Orchestrator) PollPolicy() PollPolicy { return o.poll }

// run tracks one invocation of PerformConvergentOperation.
type run struct {
	o       *Orchestrator
	req     OperationRequest
	state   State
	started time.Time
	polls   int
}

func (r *run) transition(to State) {
	from := r.state
	r.state = to
	r.o.settings.logger.Debug("Operation state changed",
		"resource", r.req.ID,
		"from", from.String(),
		"to", to.String())
	if r.o.settings.onTransition != nil {
		r.o.settings.onTransition(r.req.ID, from, to)
	}
}

// PerformConvergentOperation submits the request with retry, then polls until
// convergence. A failed status check re-submits the mutation; that
// re-submission draws from the same MaxAttempts budget as the first one.
//
// The returned Result is always in a terminal state. Result.Err is nil only
// for StateSucceeded and otherwise wraps one of ErrFatal,
// ErrRetryBudgetExceeded, ErrBackendFailed or ErrTimedOut.
func (o *Orchestrator) PerformConvergentOperation(ctx context.Context, req OperationRequest, submit SubmitFunc, status StatusFunc) Result {
	r := &run{o: o, req: req, state: StateIdle, started: time.Now()}
	scheduler := newRetryScheduler(req.ID, o.retry, o.settings)
	poller := &ConvergencePoller{resource: req.ID, policy: o.poll, settings: o.settings}

	finish := func(state State, err error) Result {
		r.transition(state)
		return Result{
			Resource:    req.ID,
			State:       state,
			Err:         err,
			Submissions: scheduler.Attempts(),
			Polls:       r.polls,
			Backoff:     scheduler.Backoff(),
			Elapsed:     time.Since(r.started),
		}
	}

	r.transition(StateSubmitting)
	err := scheduler.SubmitWithRetry(ctx, submit)

	for {
		if err != nil {
			return finish(StateFatalFailure, err)
		}

		r.transition(StatePolling)
		pr, pollErr := poller.PollUntilConverged(ctx, status)
		r.polls += pr.Polls

		if pollErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return finish(StateFatalFailure, scheduler.fail(ErrFatal, errors.Join(ctxErr, pollErr)))
			}

			o.settings.logger.Warn("Status check failed, re-submitting operation",
				"resource", req.ID,
				"submissions", scheduler.Attempts(),
				"error", pollErr)

			r.transition(StateSubmitting)
			err = scheduler.resubmit(ctx, pollErr, submit)
			continue
		}

		switch pr.Outcome {
		case PollSucceeded:
			return finish(StateSucceeded, nil)
		case PollBackendFailed:
			detail := pr.Detail
			if detail == "" {
				detail = "no detail provided"
			}
			return finish(StateBackendFailed, scheduler.fail(ErrBackendFailed, errors.New(detail)))
		default:
			return finish(StateTimedOut, &OperationError{
				Kind:     ErrTimedOut,
				Resource: req.ID,
				Attempts: r.polls,
				Err:      fmt.Errorf("still pending after %d poll(s) at %s interval", pr.Polls, o.poll.PollInterval),
			})
		}
	}
}
