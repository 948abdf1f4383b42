package converge

import (
	"context"
	"time"
)

// ConvergenceState is the state of an accepted mutation as reported by the resource backend.
type ConvergenceState int

const (
	// ConvergencePending means the backend is still applying the mutation.
	ConvergencePending ConvergenceState = iota
	// ConvergenceSucceeded means the mutation finished applying.
	ConvergenceSucceeded
	// ConvergenceFailed means the backend gave up on the mutation.
	ConvergenceFailed
)

func (s ConvergenceState) String() string {
	switch s {
	case ConvergencePending:
		return "Pending"
	case ConvergenceSucceeded:
		return "Succeeded"
	case ConvergenceFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Status is a single answer from a status check.
// Detail is the backend's explanation and is only meaningful for ConvergenceFailed.
type Status struct {
	State  ConvergenceState
	Detail string
}

// OutcomeKind classifies a submission attempt.
type OutcomeKind int

const (
	// OutcomeUnknown is the zero value; the scheduler treats it as fatal.
	OutcomeUnknown OutcomeKind = iota
	OutcomeSuccess
	OutcomeTransient
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// SubmissionOutcome is the tagged result of one submission attempt.
// Resource clients build it once at their boundary so the core never
// inspects raw status codes.
type SubmissionOutcome struct {
	Kind OutcomeKind
	Err  error
}

// Success reports an accepted submission.
func Success() SubmissionOutcome {
	return SubmissionOutcome{Kind: OutcomeSuccess}
}

// Transient reports a failure that is expected to clear on retry (throttling, retryable backend codes).
func Transient(err error) SubmissionOutcome {
	return SubmissionOutcome{Kind: OutcomeTransient, Err: err}
}

// Fatal reports a failure that will recur on retry (bad request, auth failure, not found).
func Fatal(err error) SubmissionOutcome {
	return SubmissionOutcome{Kind: OutcomeFatal, Err: err}
}

// SubmitFunc issues the mutating request once.
type SubmitFunc func(ctx context.Context) SubmissionOutcome

// StatusFunc queries the backend for the convergence state of the last accepted mutation.
// A non-nil error means the status itself could not be determined.
type StatusFunc func(ctx context.Context) (Status, error)

// OperationRequest identifies one mutation. ID is used only in logs and errors.
type OperationRequest struct {
	ID      string
	Payload any
}

// AttemptKind distinguishes submissions from status checks.
type AttemptKind int

const (
	AttemptSubmission AttemptKind = iota
	AttemptPollCheck
)

func (k AttemptKind) String() string {
	if k == AttemptPollCheck {
		return "poll"
	}
	return "submission"
}

// AttemptOutcome is the outcome of a single attempt.
type AttemptOutcome int

const (
	AttemptSucceeded AttemptOutcome = iota
	AttemptTransientFailure
	AttemptFatalFailure
)

func (o AttemptOutcome) String() string {
	switch o {
	case AttemptSucceeded:
		return "success"
	case AttemptTransientFailure:
		return "transient_failure"
	default:
		return "fatal_failure"
	}
}

// OperationAttempt describes one submission or poll. Attempts only live for
// the duration of a call and are handed to the observer, if any.
type OperationAttempt struct {
	Number  int
	Kind    AttemptKind
	Outcome AttemptOutcome
	Err     error
}

// State is the orchestrator's position in the lifecycle of one operation.
type State int

const (
	StateIdle State = iota
	StateSubmitting
	StatePolling
	StateSucceeded
	StateFatalFailure
	StateBackendFailed
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateSubmitting:
		return "Submitting"
	case StatePolling:
		return "Polling"
	case StateSucceeded:
		return "Succeeded"
	case StateFatalFailure:
		return "FatalFailure"
	case StateBackendFailed:
		return "BackendFailed"
	case StateTimedOut:
		return "TimedOut"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether no further transition can follow s.
func (s State) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateFatalFailure, StateBackendFailed, StateTimedOut:
		return true
	}
	return false
}

// Result is what PerformConvergentOperation hands back to the task layer.
type Result struct {
	Resource    string
	State       State
	Err         error
	Submissions int
	Polls       int
	// Backoff is the delay drawn for this run's retries.
	Backoff time.Duration
	Elapsed time.Duration
}

// Succeeded reports whether the operation converged.
func (r Result) Succeeded() bool {
	return r.State == StateSucceeded
}
