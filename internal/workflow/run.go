package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/cloud"
	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/converge"
	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/notifications"
	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/vso"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName = "convergectl"

	// RunIDVariable is the pipeline variable that carries the run id.
	RunIDVariable = "ConvergeRunId"

	// cleanupTimeout bounds cleanup and notification calls, which run even
	// after the run context has been cancelled.
	cleanupTimeout = 2 * time.Minute
)

// Options controls a single RunOperations call.
type Options struct {
	Retry            cloud.RetryConfig
	Poll             cloud.PollConfig
	Parallelism      int
	TimeoutIsWarning bool

	// Notifier receives one payload per operation that did not converge. Optional.
	Notifier *notifications.Webhook
	// Reporter receives the task host logging commands. Optional.
	Reporter *vso.Writer
	Logger   *slog.Logger

	// ConvergeOptions are appended to the orchestrator options (sleeper, observers).
	ConvergeOptions []converge.Option
}

// Summary describes a finished run.
type Summary struct {
	RunID     string
	Results   []converge.Result
	Succeeded int
	Failed    int
	TimedOut  int
	// TaskResult is the result reported to the task host.
	TaskResult vso.TaskResult
}

// RunOperations drives every operation to convergence.
//
// Responsibilities:
//  1. Isolation: each operation gets its own retry budget and poll counter.
//  2. Concurrency: independent resources run in parallel, bounded by Parallelism.
//  3. Failure handling: an operation that does not converge has its Cleanup
//     hook called and is reported through the webhook.
//  4. Reporting: issues, the run id and the overall task result are written
//     to the Reporter once every operation has finished.
//
// The returned error aggregates every operation that maps to a Failed task result.
func RunOperations(ctx context.Context, opts Options, ops []cloud.Operation) (Summary, error) {
	runID := fmt.Sprintf("run-%s", uuid.New().String())
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("run_id", runID)

	summary := Summary{RunID: runID, Results: make([]converge.Result, len(ops))}

	convergeOpts := append([]converge.Option{converge.WithLogger(logger)}, opts.ConvergeOptions...)
	orchestrator, err := converge.New(opts.Retry.Policy(), opts.Poll.Policy(), convergeOpts...)
	if err != nil {
		return summary, err
	}

	parallelism := opts.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}

	logger.Info("Starting convergent operations",
		"operations", len(ops),
		"parallelism", parallelism,
		"max_attempts", opts.Retry.MaxAttempts,
		"max_poll_attempts", opts.Poll.MaxPollAttempts)

	// Operations never return an error to the group: a failing resource must
	// not cancel its siblings.
	var g errgroup.Group
	g.SetLimit(parallelism)

	for i, op := range ops {
		g.Go(func() error {
			opLogger := logger.With(
				"resource", op.Request.ID,
				"provider", op.Provider,
				"progress", fmt.Sprintf("%d/%d", i+1, len(ops)))

			opLogger.Debug("Starting operation")
			result := orchestrator.PerformConvergentOperation(ctx, op.Request, op.Submit, op.Status)
			summary.Results[i] = result

			if result.Succeeded() {
				opLogger.Info("Operation converged",
					"submissions", result.Submissions,
					"polls", result.Polls,
					"elapsed", result.Elapsed.Round(time.Millisecond))
				return nil
			}

			opLogger.Error("Operation did not converge",
				"state", result.State.String(),
				"submissions", result.Submissions,
				"polls", result.Polls,
				"error", result.Err)
			handleFailure(ctx, opts.Notifier, runID, op, result, opLogger)
			return nil
		})
	}
	_ = g.Wait()

	var (
		merr        *multierror.Error
		taskResults = make([]vso.TaskResult, 0, len(ops))
	)
	for _, result := range summary.Results {
		taskResult := vso.ResultFor(result.State, opts.TimeoutIsWarning)
		taskResults = append(taskResults, taskResult)

		switch result.State {
		case converge.StateSucceeded:
			summary.Succeeded++
			continue
		case converge.StateTimedOut:
			summary.TimedOut++
		default:
			summary.Failed++
		}

		issue := vso.IssueError
		if taskResult != vso.Failed {
			issue = vso.IssueWarning
		}
		report(logger, opts.Reporter, issue, result.Err.Error())

		if taskResult == vso.Failed {
			merr = multierror.Append(merr, result.Err)
		}
	}
	summary.TaskResult = vso.Worst(taskResults...)

	if opts.Reporter != nil {
		if err := opts.Reporter.SetVariable(RunIDVariable, runID, false); err != nil {
			logger.Warn("Failed to write task variable", "error", err)
		}
		message := fmt.Sprintf("%d of %d operation(s) converged", summary.Succeeded, len(ops))
		if err := opts.Reporter.Complete(summary.TaskResult, message); err != nil {
			logger.Warn("Failed to write task result", "error", err)
		}
	}

	logger.Info("Convergence run summary",
		"total", len(ops),
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"timed_out", summary.TimedOut,
		"task_result", string(summary.TaskResult))

	return summary, merr.ErrorOrNil()
}

// report writes a log issue when a reporter is configured.
func report(logger *slog.Logger, reporter *vso.Writer, issue vso.IssueType, message string) {
	if reporter == nil {
		return
	}
	if err := reporter.LogIssue(issue, message); err != nil {
		logger.Warn("Failed to write task issue", "error", err)
	}
}

// handleFailure runs the operation's cleanup hook and sends the webhook
// notification. Both use a context detached from ctx's cancellation so a
// timed out run still tidies up.
func handleFailure(ctx context.Context, notifier *notifications.Webhook, runID string, op cloud.Operation, result converge.Result, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if op.Cleanup != nil {
		if err := op.Cleanup(ctx); err != nil {
			logger.Warn("Cleanup after failed operation did not complete", "error", err)
		} else {
			logger.Debug("Cleanup after failed operation completed")
		}
	}

	if !notifier.Enabled() {
		return
	}

	message := ""
	if result.Err != nil {
		message = result.Err.Error()
	}
	err := notifier.Notify(ctx, notifications.OperationFailure{
		Service:     serviceName,
		RunID:       runID,
		Provider:    op.Provider,
		Resource:    result.Resource,
		State:       result.State.String(),
		Message:     message,
		Submissions: result.Submissions,
		Polls:       result.Polls,
	})
	if err != nil {
		logger.Warn("Failed to send failure notification", "error", err)
	}
}
