package manager

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"testing"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/purser-io/purser/pkg/errdefs"
	"github.com/purser-io/purser/pkg/log"
	"github.com/purser-io/purser/pkg/storage"
	"github.com/purser-io/purser/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel})
	os.Exit(m.Run())
}

func newTestFSM(t *testing.T) *FSM {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewFSM(store)
}

func applyCommand(t *testing.T, f *FSM, op string, version int64, payload interface{}) interface{} {
	t.Helper()
	cmd, err := NewCommand(op, version, payload)
	require.NoError(t, err)
	data, err := json.Marshal(cmd)
	require.NoError(t, err)
	return f.Apply(&raft.Log{Data: data})
}

func TestFSMApplyTaskCommands(t *testing.T) {
	f := newTestFSM(t)

	task := &types.TaskDocument{
		SelfLink: "/requests/broker/t1",
		Kind:     "broker",
		Stage:    types.TaskStageCreated,
	}
	assert.Nil(t, applyCommand(t, f, OpCreateTask, 0, task))

	task.Stage = types.TaskStageStarted
	assert.Nil(t, applyCommand(t, f, OpUpdateTask, 0, task))

	stored, err := f.store.GetTask(task.SelfLink)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStageStarted, stored.Stage)
	assert.Equal(t, int64(1), stored.DocumentVersion)

	// A stale compare-and-swap surfaces as the FSM response.
	resp := applyCommand(t, f, OpUpdateTask, 0, task)
	respErr, ok := resp.(error)
	require.True(t, ok)
	assert.True(t, errdefs.IsConflict(respErr))

	assert.Nil(t, applyCommand(t, f, OpDeleteTask, 0, task.SelfLink))
	_, err = f.store.GetTask(task.SelfLink)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestFSMApplyUnknownCommand(t *testing.T) {
	f := newTestFSM(t)
	resp := applyCommand(t, f, "truncate_everything", 0, nil)
	_, ok := resp.(error)
	assert.True(t, ok)
}

func TestFSMSnapshotRestore(t *testing.T) {
	f := newTestFSM(t)

	require.Nil(t, applyCommand(t, f, OpCreateTask, 0, &types.TaskDocument{
		SelfLink: "/requests/broker/t1",
		Kind:     "broker",
	}))
	require.Nil(t, applyCommand(t, f, OpCreateResource, 0, &types.ResourceState{
		SelfLink:   "/resources/r1",
		Type:       types.ResourceTypeContainer,
		PowerState: types.PowerStateRunning,
	}))
	require.Nil(t, applyCommand(t, f, OpCreatePlacement, 0, &types.Placement{
		SelfLink:         "/placements/p1",
		ResourcePoolLink: "p1",
	}))
	require.Nil(t, applyCommand(t, f, OpCreateContainerDescription, 0, &types.ContainerDescription{
		SelfLink: "/descriptions/containers/web",
		Name:     "web",
		Image:    "nginx:alpine",
	}))

	snap, err := f.Snapshot()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, snap.Persist(&memorySink{Buffer: &buf}))
	snap.Release()

	restored := newTestFSM(t)
	require.NoError(t, restored.Restore(io.NopCloser(&buf)))

	task, err := restored.store.GetTask("/requests/broker/t1")
	require.NoError(t, err)
	assert.Equal(t, "broker", task.Kind)

	resource, err := restored.store.GetResource("/resources/r1")
	require.NoError(t, err)
	assert.Equal(t, types.PowerStateRunning, resource.PowerState)

	placement, err := restored.store.GetPlacement("/placements/p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", placement.ResourcePoolLink)

	desc, err := restored.store.GetContainerDescription("/descriptions/containers/web")
	require.NoError(t, err)
	assert.Equal(t, "nginx:alpine", desc.Image)
}

// memorySink is an in-memory raft.SnapshotSink for tests
type memorySink struct {
	*bytes.Buffer
}

func (s *memorySink) ID() string    { return "test" }
func (s *memorySink) Cancel() error { return nil }
func (s *memorySink) Close() error  { return nil }
