package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/google/go-cmp/cmp"
	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/cloud"
	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/cloud/azure"
	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/config"
	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/converge"
	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/notifications"
	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/vso"
)

var errInvalidRequest = errors.New("invalid request")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noSleep(context.Context, time.Duration) error { return nil }

func testOptions() Options {
	return Options{
		Retry:           cloud.RetryConfig{MaxAttempts: 3, BackoffMin: time.Millisecond, BackoffMax: time.Millisecond},
		Poll:            cloud.PollConfig{MaxPollAttempts: 3, PollInterval: time.Millisecond},
		Parallelism:     4,
		Logger:          discardLogger(),
		ConvergeOptions: []converge.Option{converge.WithSleeper(noSleep)},
	}
}

// fakeOperation builds an operation whose submit and status are fixed.
func fakeOperation(id string, outcome converge.SubmissionOutcome, state converge.ConvergenceState, cleanups *atomic.Int32) cloud.Operation {
	return cloud.Operation{
		Provider: "fake",
		Request:  converge.OperationRequest{ID: id},
		Submit: func(context.Context) converge.SubmissionOutcome {
			return outcome
		},
		Status: func(context.Context) (converge.Status, error) {
			return converge.Status{State: state}, nil
		},
		Cleanup: func(context.Context) error {
			cleanups.Add(1)
			return nil
		},
	}
}

// webhookRecorder collects failure payloads.
type webhookRecorder struct {
	mu       sync.Mutex
	payloads []notifications.OperationFailure
}

func (r *webhookRecorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var payload notifications.OperationFailure
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	r.mu.Lock()
	r.payloads = append(r.payloads, payload)
	r.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func TestRunOperations_MixedOutcomes(t *testing.T) {
	recorder := &webhookRecorder{}
	server := httptest.NewServer(recorder)
	defer server.Close()

	var cleanups atomic.Int32
	var out bytes.Buffer

	opts := testOptions()
	opts.Notifier = &notifications.Webhook{URL: server.URL}
	opts.Reporter = vso.NewWriter(&out)

	ops := []cloud.Operation{
		fakeOperation("ok", converge.Success(), converge.ConvergenceSucceeded, &cleanups),
		fakeOperation("rejected", converge.Fatal(errInvalidRequest), converge.ConvergenceSucceeded, &cleanups),
		fakeOperation("stuck", converge.Success(), converge.ConvergencePending, &cleanups),
	}

	summary, err := RunOperations(context.Background(), opts, ops)

	if !errors.Is(err, converge.ErrFatal) {
		t.Errorf("RunOperations() error = %v, want it to wrap ErrFatal", err)
	}
	if !errors.Is(err, converge.ErrTimedOut) {
		t.Errorf("RunOperations() error = %v, want it to wrap ErrTimedOut", err)
	}

	got := struct{ Succeeded, Failed, TimedOut int }{summary.Succeeded, summary.Failed, summary.TimedOut}
	want := struct{ Succeeded, Failed, TimedOut int }{1, 1, 1}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("summary counts mismatch (-want +got):\n%s", diff)
	}
	if summary.TaskResult != vso.Failed {
		t.Errorf("TaskResult = %s, want Failed", summary.TaskResult)
	}
	if !strings.HasPrefix(summary.RunID, "run-") {
		t.Errorf("RunID = %q, want run- prefix", summary.RunID)
	}

	states := []converge.State{}
	for _, r := range summary.Results {
		states = append(states, r.State)
	}
	wantStates := []converge.State{converge.StateSucceeded, converge.StateFatalFailure, converge.StateTimedOut}
	if diff := cmp.Diff(wantStates, states); diff != "" {
		t.Errorf("result states mismatch (-want +got):\n%s", diff)
	}

	if n := cleanups.Load(); n != 2 {
		t.Errorf("cleanup calls = %d, want 2", n)
	}

	recorder.mu.Lock()
	resources := map[string]string{}
	for _, p := range recorder.payloads {
		resources[p.Resource] = p.State
		if p.RunID != summary.RunID {
			t.Errorf("payload run id = %q, want %q", p.RunID, summary.RunID)
		}
	}
	recorder.mu.Unlock()
	wantResources := map[string]string{"rejected": "FatalFailure", "stuck": "TimedOut"}
	if diff := cmp.Diff(wantResources, resources); diff != "" {
		t.Errorf("webhook payloads mismatch (-want +got):\n%s", diff)
	}

	output := out.String()
	if c := strings.Count(output, "##vso[task.logissue type=error;]"); c != 2 {
		t.Errorf("error issues = %d, want 2\n%s", c, output)
	}
	if !strings.Contains(output, "##vso[task.setvariable variable=ConvergeRunId;]"+summary.RunID) {
		t.Errorf("missing run id variable\n%s", output)
	}
	if !strings.Contains(output, "##vso[task.complete result=Failed;]1 of 3 operation(s) converged") {
		t.Errorf("missing task.complete\n%s", output)
	}
}

func TestRunOperations_TimeoutIsWarning(t *testing.T) {
	var cleanups atomic.Int32
	var out bytes.Buffer

	opts := testOptions()
	opts.TimeoutIsWarning = true
	opts.Reporter = vso.NewWriter(&out)

	ops := []cloud.Operation{
		fakeOperation("ok", converge.Success(), converge.ConvergenceSucceeded, &cleanups),
		fakeOperation("stuck", converge.Success(), converge.ConvergencePending, &cleanups),
	}

	summary, err := RunOperations(context.Background(), opts, ops)
	if err != nil {
		t.Fatalf("RunOperations() error = %v, want nil when timeouts are warnings", err)
	}
	if summary.TaskResult != vso.SucceededWithIssues {
		t.Errorf("TaskResult = %s, want SucceededWithIssues", summary.TaskResult)
	}
	if !strings.Contains(out.String(), "##vso[task.logissue type=warning;]stuck") {
		t.Errorf("missing warning issue\n%s", out.String())
	}
	if !strings.Contains(out.String(), "result=SucceededWithIssues") {
		t.Errorf("missing SucceededWithIssues result\n%s", out.String())
	}
}

func TestRunOperations_IndependentBudgets(t *testing.T) {
	// Each operation fails transiently twice before succeeding. With a shared
	// budget of three attempts the later ones would run out.
	newOp := func(id string) cloud.Operation {
		var calls atomic.Int32
		return cloud.Operation{
			Request: converge.OperationRequest{ID: id},
			Submit: func(context.Context) converge.SubmissionOutcome {
				if calls.Add(1) < 3 {
					return converge.Transient(errors.New("throttled"))
				}
				return converge.Success()
			},
			Status: func(context.Context) (converge.Status, error) {
				return converge.Status{State: converge.ConvergenceSucceeded}, nil
			},
		}
	}

	ops := []cloud.Operation{newOp("a"), newOp("b"), newOp("c")}
	summary, err := RunOperations(context.Background(), testOptions(), ops)
	if err != nil {
		t.Fatalf("RunOperations() error = %v", err)
	}
	for _, r := range summary.Results {
		if r.Submissions != 3 || !r.Succeeded() {
			t.Errorf("%s: state = %s submissions = %d, want Succeeded after 3", r.Resource, r.State, r.Submissions)
		}
	}
}

func TestRunOperations_BoundedParallelism(t *testing.T) {
	var inFlight, peak atomic.Int32

	newOp := func(id string) cloud.Operation {
		return cloud.Operation{
			Request: converge.OperationRequest{ID: id},
			Submit: func(context.Context) converge.SubmissionOutcome {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				inFlight.Add(-1)
				return converge.Success()
			},
			Status: func(context.Context) (converge.Status, error) {
				return converge.Status{State: converge.ConvergenceSucceeded}, nil
			},
		}
	}

	opts := testOptions()
	opts.Parallelism = 2

	ops := []cloud.Operation{newOp("a"), newOp("b"), newOp("c"), newOp("d"), newOp("e")}
	summary, err := RunOperations(context.Background(), opts, ops)
	if err != nil {
		t.Fatalf("RunOperations() error = %v", err)
	}
	if summary.Succeeded != len(ops) {
		t.Errorf("Succeeded = %d, want %d", summary.Succeeded, len(ops))
	}
	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want at most 2", p)
	}
}

func TestRunOperations_NoOperations(t *testing.T) {
	var out bytes.Buffer
	opts := testOptions()
	opts.Reporter = vso.NewWriter(&out)

	summary, err := RunOperations(context.Background(), opts, nil)
	if err != nil {
		t.Fatalf("RunOperations() error = %v", err)
	}
	if summary.TaskResult != vso.Succeeded {
		t.Errorf("TaskResult = %s, want Succeeded", summary.TaskResult)
	}
	if !strings.Contains(out.String(), "##vso[task.complete result=Succeeded;]0 of 0 operation(s) converged") {
		t.Errorf("unexpected output\n%s", out.String())
	}
}

func TestRunOperations_InvalidPolicy(t *testing.T) {
	opts := testOptions()
	opts.Retry.MaxAttempts = 0

	if _, err := RunOperations(context.Background(), opts, nil); err == nil {
		t.Fatal("RunOperations() error = nil, want invalid policy error")
	}
}

type staticToken struct{}

func (staticToken) GetToken(context.Context, policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{Token: "token", ExpiresOn: time.Now().Add(time.Hour)}, nil
}

func TestBuilder_AzureExpandsNetworkInterfaces(t *testing.T) {
	cfg := config.Defaults()
	cfg.Azure.SubscriptionID = "sub-1"
	cfg.Operations = []config.OperationSpec{{
		Provider:          "azure",
		Action:            "remove",
		ResourceGroup:     "rg",
		LoadBalancer:      "lb1",
		NetworkInterfaces: []string{"nic1", "nic2"},
	}}

	b := &Builder{
		Config:       cfg,
		Logger:       discardLogger(),
		AzureOptions: []azure.ClientOption{azure.WithCredential(staticToken{})},
	}
	ops, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	var ids []string
	for _, op := range ops {
		ids = append(ids, op.Request.ID)
		if op.Provider != "azure" {
			t.Errorf("Provider = %q, want azure", op.Provider)
		}
		req, ok := op.Request.Payload.(azure.BackendPoolRequest)
		if !ok || req.Action != azure.ActionRemove {
			t.Errorf("Payload = %#v, want a remove BackendPoolRequest", op.Request.Payload)
		}
	}
	if diff := cmp.Diff([]string{"rg/lb1/nic1", "rg/lb1/nic2"}, ids); diff != "" {
		t.Errorf("operation ids mismatch (-want +got):\n%s", diff)
	}
}

func TestBuilder_Errors(t *testing.T) {
	tests := []struct {
		name string
		spec config.OperationSpec
	}{
		{name: "unknown action", spec: config.OperationSpec{Provider: "azure", Action: "toggle", NetworkInterfaces: []string{"nic"}}},
		{name: "unknown provider", spec: config.OperationSpec{Provider: "gcp"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Defaults()
			cfg.Azure.SubscriptionID = "sub-1"
			cfg.Operations = []config.OperationSpec{tt.spec}

			b := &Builder{Config: cfg, Logger: discardLogger(), AzureOptions: []azure.ClientOption{azure.WithCredential(staticToken{})}}
			if _, err := b.Build(context.Background()); err == nil || !strings.Contains(err.Error(), "operations[0]") {
				t.Errorf("Build() error = %v, want an operations[0] error", err)
			}
		})
	}
}
