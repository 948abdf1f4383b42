package openstack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack/blockstorage/v3/snapshots"
	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/cloud"
	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/converge"
)

func TestSnapshotState(t *testing.T) {
	tests := []struct {
		status string
		want   converge.ConvergenceState
	}{
		{status: "creating", want: converge.ConvergencePending},
		{status: "available", want: converge.ConvergenceSucceeded},
		{status: "error", want: converge.ConvergenceFailed},
		{status: "error_deleting", want: converge.ConvergenceFailed},
		{status: "backing-up", want: converge.ConvergencePending},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			got := snapshotState(snapshots.Snapshot{ID: "snap-1", Status: tt.status})
			if got.State != tt.want {
				t.Errorf("snapshotState(%q) = %s, want %s", tt.status, got.State, tt.want)
			}
			if tt.want == converge.ConvergenceFailed && !strings.Contains(got.Detail, "snap-1") {
				t.Errorf("Detail = %q, want it to name the snapshot", got.Detail)
			}
		})
	}
}

// fakeCinder serves the handful of Block Storage endpoints a snapshot operation touches.
type fakeCinder struct {
	mu      sync.Mutex
	created int
	deleted []string
	// deleteStatus, when set, is returned for every force delete.
	deleteStatus   int
	deleteAttempts int
	statuses       map[string][]int // snapshot id -> scripted HTTP codes for GET
	states         map[string][]string
}

func (f *fakeCinder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Openstack-Request-Id", "req-"+r.Method)

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/snapshots":
		f.created++
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprintf(w, `{"snapshot": {"id": "snap-%d", "status": "creating", "volume_id": "vol-1"}}`, f.created)

	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/action"):
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/snapshots/"), "/action")
		f.deleteAttempts++
		if f.deleteStatus != 0 {
			w.WriteHeader(f.deleteStatus)
			return
		}
		f.deleted = append(f.deleted, id)
		w.WriteHeader(http.StatusAccepted)

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/snapshots/"):
		id := strings.TrimPrefix(r.URL.Path, "/snapshots/")
		if codes := f.statuses[id]; len(codes) > 0 {
			f.statuses[id] = codes[1:]
			if codes[0] != http.StatusOK {
				w.WriteHeader(codes[0])
				return
			}
		}
		state := "creating"
		if states := f.states[id]; len(states) > 0 {
			state = states[0]
			if len(states) > 1 {
				f.states[id] = states[1:]
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"snapshot": {"id": %q, "status": %q, "volume_id": "vol-1"}}`, id, state)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, backend http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(backend)
	t.Cleanup(server.Close)

	return &Client{
		ProfileName: "test",
		RetryConfig: cloud.RetryConfig{MaxAttempts: 2},
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		BlockStorageClient: &gophercloud.ServiceClient{
			ProviderClient: &gophercloud.ProviderClient{},
			Endpoint:       server.URL + "/",
		},
	}
}

func TestSnapshotOperation_Converges(t *testing.T) {
	backend := &fakeCinder{
		states: map[string][]string{"snap-1": {"creating", "creating", "available"}},
	}
	client := newTestClient(t, backend)

	op := client.SnapshotOperation("vol-1", "nightly", map[string]string{"owner": "ci"})

	o, err := converge.New(converge.RetryPolicy{MaxAttempts: 3}, converge.PollPolicy{MaxPollAttempts: 5})
	if err != nil {
		t.Fatalf("converge.New() error = %v", err)
	}
	got := o.PerformConvergentOperation(context.Background(), op.Request, op.Submit, op.Status)

	if !got.Succeeded() {
		t.Fatalf("State = %s, Err = %v", got.State, got.Err)
	}
	if got.Submissions != 1 || got.Polls != 3 {
		t.Errorf("submissions/polls = %d/%d, want 1/3", got.Submissions, got.Polls)
	}

	req, ok := op.Request.Payload.(SnapshotRequest)
	if !ok {
		t.Fatalf("Payload type = %T, want SnapshotRequest", op.Request.Payload)
	}
	wantMeta := map[string]string{ManagedTag: "true", "owner": "ci"}
	if diff := cmp.Diff(wantMeta, req.Metadata); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshotOperation_ResubmitReplacesPreviousSnapshot(t *testing.T) {
	backend := &fakeCinder{
		statuses: map[string][]int{"snap-1": {http.StatusBadGateway}},
		states:   map[string][]string{"snap-2": {"available"}},
	}
	client := newTestClient(t, backend)

	op := client.SnapshotOperation("vol-1", "nightly", nil)

	o, _ := converge.New(converge.RetryPolicy{MaxAttempts: 3}, converge.PollPolicy{MaxPollAttempts: 5})
	got := o.PerformConvergentOperation(context.Background(), op.Request, op.Submit, op.Status)

	if !got.Succeeded() {
		t.Fatalf("State = %s, Err = %v", got.State, got.Err)
	}
	if backend.created != 2 {
		t.Errorf("created %d snapshots, want 2", backend.created)
	}
	if diff := cmp.Diff([]string{"snap-1"}, backend.deleted); diff != "" {
		t.Errorf("deleted snapshots mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshotOperation_CleanupAfterBackendFailure(t *testing.T) {
	backend := &fakeCinder{
		states: map[string][]string{"snap-1": {"error"}},
	}
	client := newTestClient(t, backend)

	op := client.SnapshotOperation("vol-1", "weekly", nil)

	o, _ := converge.New(converge.RetryPolicy{MaxAttempts: 1}, converge.PollPolicy{MaxPollAttempts: 5})
	got := o.PerformConvergentOperation(context.Background(), op.Request, op.Submit, op.Status)

	if got.State != converge.StateBackendFailed {
		t.Fatalf("State = %s, want BackendFailed", got.State)
	}
	if err := op.Cleanup(context.Background()); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if diff := cmp.Diff([]string{"snap-1"}, backend.deleted); diff != "" {
		t.Errorf("deleted snapshots mismatch (-want +got):\n%s", diff)
	}

	// A second cleanup has nothing left to delete.
	if err := op.Cleanup(context.Background()); err != nil {
		t.Fatalf("second Cleanup() error = %v", err)
	}
	if len(backend.deleted) != 1 {
		t.Errorf("deleted %d snapshots, want 1", len(backend.deleted))
	}
}

func TestSnapshotOperation_FailedReplacementKeepsPreviousSnapshot(t *testing.T) {
	backend := &fakeCinder{
		statuses:     map[string][]int{"snap-1": {http.StatusBadGateway}},
		deleteStatus: http.StatusServiceUnavailable,
	}
	client := newTestClient(t, backend)

	op := client.SnapshotOperation("vol-1", "nightly", nil)

	o, _ := converge.New(converge.RetryPolicy{MaxAttempts: 3}, converge.PollPolicy{MaxPollAttempts: 5})
	got := o.PerformConvergentOperation(context.Background(), op.Request, op.Submit, op.Status)

	if got.State != converge.StateFatalFailure {
		t.Fatalf("State = %s, want FatalFailure", got.State)
	}
	if !errors.Is(got.Err, converge.ErrRetryBudgetExceeded) {
		t.Errorf("Err = %v, want it to wrap ErrRetryBudgetExceeded", got.Err)
	}

	backend.mu.Lock()
	created, attempts := backend.created, backend.deleteAttempts
	backend.mu.Unlock()
	if created != 1 {
		t.Errorf("created %d snapshots, want 1", created)
	}
	if attempts < 2 {
		t.Errorf("delete attempts = %d, want one per re-submission", attempts)
	}

	// Cleanup still knows snap-1 and removes it once Cinder recovers.
	if err := op.Cleanup(context.Background()); err == nil {
		t.Fatal("Cleanup() error = nil while deletes are failing")
	}
	backend.mu.Lock()
	backend.deleteStatus = 0
	backend.mu.Unlock()

	if err := op.Cleanup(context.Background()); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if diff := cmp.Diff([]string{"snap-1"}, backend.deleted); diff != "" {
		t.Errorf("deleted snapshots mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshotOperation_ManagedTagCannotBeOverridden(t *testing.T) {
	client := newTestClient(t, &fakeCinder{})

	op := client.SnapshotOperation("vol-1", "nightly", map[string]string{ManagedTag: "false", "owner": "ci"})

	req := op.Request.Payload.(SnapshotRequest)
	want := map[string]string{ManagedTag: "true", "owner": "ci"}
	if diff := cmp.Diff(want, req.Metadata); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}
}
