package converge

import (
	"errors"
	"fmt"
)

var (
	// ErrFatal marks a submission error that is not retried.
	ErrFatal = errors.New("fatal failure")
	// ErrRetryBudgetExceeded marks a run whose submission attempts ran out.
	ErrRetryBudgetExceeded = errors.New("max retries exceeded")
	// ErrTimedOut marks a run whose poll budget ran out while the backend still reported Pending.
	ErrTimedOut = errors.New("timed out waiting for convergence")
	// ErrBackendFailed marks a run where the backend reported the mutation as failed.
	ErrBackendFailed = errors.New("backend reported failure")
	// ErrUnclassifiedOutcome is wrapped when a SubmitFunc returns the zero SubmissionOutcome.
	ErrUnclassifiedOutcome = errors.New("submission outcome was not classified")
)

// OperationError carries the failure kind (one of the sentinels above), the
// resource identifier and the underlying cause. Both the kind and the cause
// are reachable through errors.Is and errors.As.
type OperationError struct {
	Kind     error
	Resource string
	Attempts int
	Err      error
}

func (e *OperationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v after %d attempt(s)", e.Resource, e.Kind, e.Attempts)
	}
	return fmt.Sprintf("%s: %v after %d attempt(s): %v", e.Resource, e.Kind, e.Attempts, e.Err)
}

func (e *OperationError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
