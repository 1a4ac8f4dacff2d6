package manager

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/purser-io/purser/pkg/errdefs"
	"github.com/purser-io/purser/pkg/types"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func newTestNode(t *testing.T) *Manager {
	t.Helper()
	mgr, err := New(&Config{
		NodeID:   "node-1",
		BindAddr: freeAddr(t),
		DataDir:  t.TempDir(),
	})
	require.NoError(t, err)
	require.NoError(t, mgr.Bootstrap())
	t.Cleanup(func() { _ = mgr.Shutdown() })
	require.Eventually(t, mgr.IsLeader, 5*time.Second, 50*time.Millisecond)
	return mgr
}

func TestReplicatedStoreRoutesMutationsThroughRaft(t *testing.T) {
	mgr := newTestNode(t)
	store := mgr.ReplicatedStore()
	baseline := mgr.raft.LastIndex()

	task := &types.TaskDocument{
		SelfLink: "/requests/broker/t1",
		Kind:     "broker",
		Stage:    types.TaskStageCreated,
	}
	require.NoError(t, store.CreateTask(task))

	stored, err := store.GetTask(task.SelfLink)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStageCreated, stored.Stage)

	task.Stage = types.TaskStageStarted
	require.NoError(t, store.UpdateTask(task, 0))
	assert.Equal(t, int64(1), task.DocumentVersion)

	// A stale compare-and-swap surfaces typed through the apply future.
	err = store.UpdateTask(task, 0)
	require.Error(t, err)
	assert.True(t, errdefs.IsConflict(err))

	require.NoError(t, store.DeleteTask(task.SelfLink))
	_, err = store.GetTask(task.SelfLink)
	assert.True(t, errdefs.IsNotFound(err))

	// Every mutation above went through the log, not straight to bolt.
	assert.GreaterOrEqual(t, mgr.raft.LastIndex(), baseline+4)
}

func TestReplicatedStoreDocuments(t *testing.T) {
	mgr := newTestNode(t)
	store := mgr.ReplicatedStore()

	desc := &types.ContainerDescription{
		SelfLink: "/descriptions/containers/web",
		Name:     "web",
		Image:    "nginx:alpine",
	}
	require.NoError(t, store.CreateContainerDescription(desc))

	placement := &types.Placement{SelfLink: "/placements/p1"}
	require.NoError(t, store.CreatePlacement(placement))
	placement.AllocatedInstancesCount = 2
	require.NoError(t, store.UpdatePlacement(placement, 0))
	assert.Equal(t, int64(1), placement.DocumentVersion)

	got, err := store.GetPlacement(placement.SelfLink)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.AllocatedInstancesCount)

	descs, err := store.ListContainerDescriptions()
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, "web", descs[0].Name)
}
