package openstack

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/gophercloud/gophercloud/v2/openstack/blockstorage/v3/snapshots"
	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/cloud"
	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/converge"
)

// ManagedTag marks snapshots created by this tool.
const ManagedTag = "x-convergectl-managed"

// SnapshotRequest is the payload of a snapshot operation.
type SnapshotRequest struct {
	VolumeID string
	Name     string
	Metadata map[string]string
}

// snapshotState maps a Cinder snapshot status onto a convergence state.
func snapshotState(snap snapshots.Snapshot) converge.Status {
	switch snap.Status {
	case "available":
		return converge.Status{State: converge.ConvergenceSucceeded}
	case "error", "error_deleting":
		return converge.Status{
			State:  converge.ConvergenceFailed,
			Detail: fmt.Sprintf("snapshot %s entered status %q", snap.ID, snap.Status),
		}
	default:
		return converge.Status{State: converge.ConvergencePending}
	}
}

// SnapshotOperation prepares the creation of a volume snapshot.
//
// Behavior:
//   - Force Creation: Uses the `Force: true` flag, allowing snapshots to be taken even if the
//     volume is currently attached ("in-use") by an instance.
//   - Submit issues the create call and remembers the snapshot ID. Status reads that
//     snapshot back; "available" is converged, "error" is a backend failure.
//   - Re-submission: when a status check fails the orchestrator submits again. The
//     snapshot from the previous round is force deleted first so a retry never leaves
//     two snapshots behind. A failed delete fails the attempt instead of creating a
//     second snapshot.
//   - Cleanup deletes the remembered snapshot if the operation ends without converging.
func (c *Client) SnapshotOperation(volumeID, name string, metadata map[string]string) cloud.Operation {
	req := SnapshotRequest{
		VolumeID: volumeID,
		Name:     name,
		Metadata: map[string]string{},
	}
	maps.Copy(req.Metadata, metadata)
	req.Metadata[ManagedTag] = "true"

	var (
		mu         sync.Mutex
		snapshotID string
	)
	current := func() string {
		mu.Lock()
		defer mu.Unlock()
		return snapshotID
	}
	remember := func(id string) {
		mu.Lock()
		snapshotID = id
		mu.Unlock()
	}

	log := c.logger().With("volume_id", volumeID, "snapshot_name", name)

	submit := func(ctx context.Context) converge.SubmissionOutcome {
		if previous := current(); previous != "" {
			log.Warn("Replacing snapshot from previous attempt", "snapshot_id", previous)
			// The ID is kept until the delete is accepted so a later attempt
			// or Cleanup can still reach the snapshot.
			if reqID, err := c.DeleteSnapshot(ctx, previous); err != nil {
				log.Error("Previous snapshot cleanup failed",
					"snapshot_id", previous,
					"request_id", reqID,
					"error", err)
				return classify(fmt.Errorf("failed to delete snapshot %s from previous attempt: %w", previous, err))
			}
			remember("")
		}

		result := snapshots.Create(ctx, c.BlockStorageClient, snapshots.CreateOpts{
			VolumeID:    req.VolumeID,
			Force:       true,
			Name:        req.Name,
			Description: "Created and managed by convergectl",
			Metadata:    req.Metadata,
		})
		requestID := result.Header.Get("X-Openstack-Request-Id")

		snap, err := result.Extract()
		if err != nil {
			log.Debug("Snapshot create request rejected", "request_id", requestID, "error", err)
			return classify(err)
		}

		remember(snap.ID)
		log.Info("Snapshot create request accepted", "snapshot_id", snap.ID, "request_id", requestID)
		return converge.Success()
	}

	status := func(ctx context.Context) (converge.Status, error) {
		id := current()
		snap, err := snapshots.Get(ctx, c.BlockStorageClient, id).Extract()
		if err != nil {
			return converge.Status{}, fmt.Errorf("failed to read snapshot %s: %w", id, err)
		}
		return snapshotState(*snap), nil
	}

	cleanup := func(ctx context.Context) error {
		id := current()
		if id == "" {
			return nil
		}
		reqID, err := c.DeleteSnapshot(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to delete snapshot %s (request %s): %w", id, reqID, err)
		}
		remember("")
		return nil
	}

	return cloud.Operation{
		Provider: c.GetCloudProviderName(),
		Request:  converge.OperationRequest{ID: "volume/" + volumeID + "/snapshot/" + name, Payload: req},
		Submit:   submit,
		Status:   status,
		Cleanup:  cleanup,
	}
}

// DeleteSnapshot force deletes a snapshot. It returns once the request is
// accepted and does not wait for the snapshot to disappear.
func (c *Client) DeleteSnapshot(ctx context.Context, snapshotID string) (RequestID string, Error error) {
	var requestID string
	deleteOperation := func(innerCtx context.Context) error {
		result := snapshots.ForceDelete(innerCtx, c.BlockStorageClient, snapshotID)
		requestID = result.Header.Get("X-Openstack-Request-Id")
		return result.Err
	}

	if err := c.executeWithRetry(ctx, "DeleteVolumeSnapshot", deleteOperation); err != nil {
		return requestID, err
	}

	return requestID, nil
}
