package tasks

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/purser-io/purser/pkg/adapter"
	"github.com/purser-io/purser/pkg/errdefs"
	"github.com/purser-io/purser/pkg/ledger"
	"github.com/purser-io/purser/pkg/log"
	"github.com/purser-io/purser/pkg/storage"
	"github.com/purser-io/purser/pkg/taskengine"
	"github.com/purser-io/purser/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel})
	os.Exit(m.Run())
}

type fixture struct {
	services *Services
	engine   *taskengine.Engine
	store    storage.Store
	ledger   *ledger.Ledger
	mock     *adapter.MockAdapter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	engine := taskengine.New(store, nil)
	l := ledger.NewLedger(store)
	mock := adapter.NewMockAdapter(store, types.ResourceTypeContainer)
	registry := adapter.NewRegistry()
	registry.Register(mock)

	services := &Services{
		Engine:   engine,
		Store:    store,
		Ledger:   l,
		Adapters: registry,
	}
	require.NoError(t, services.RegisterAll())

	return &fixture{
		services: services,
		engine:   engine,
		store:    store,
		ledger:   l,
		mock:     mock,
	}
}

func (f *fixture) runBroker(t *testing.T, task *types.TaskDocument) *types.TaskDocument {
	t.Helper()
	task.Kind = KindBroker
	task.Stage = types.TaskStageCreated
	require.NoError(t, f.engine.Start(context.Background(), task))
	f.engine.Wait()

	final, err := f.engine.Get(context.Background(), task.SelfLink)
	require.NoError(t, err)
	return final
}

func TestBrokerValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		task *types.TaskDocument
	}{
		{
			name: "missing resource type",
			task: &types.TaskDocument{Operation: types.OperationProvision},
		},
		{
			name: "provision without description",
			task: &types.TaskDocument{
				Operation:     types.OperationProvision,
				ResourceType:  types.ResourceTypeContainer,
				ResourceCount: 1,
			},
		},
		{
			name: "provision with zero count",
			task: &types.TaskDocument{
				Operation:               types.OperationProvision,
				ResourceType:            types.ResourceTypeContainer,
				ResourceDescriptionLink: "/descriptions/containers/web",
			},
		},
		{
			name: "remove without links",
			task: &types.TaskDocument{
				Operation:    types.OperationRemove,
				ResourceType: types.ResourceTypeContainer,
			},
		},
		{
			name: "remove with pool but no description",
			task: &types.TaskDocument{
				Operation:        types.OperationRemove,
				ResourceType:     types.ResourceTypeContainer,
				ResourceLinks:    []string{"/resources/containers/r1"},
				ResourcePoolLink: "/pools/p1",
			},
		},
		{
			name: "unknown operation",
			task: &types.TaskDocument{
				Operation:    types.RequestOperation("SCALE"),
				ResourceType: types.ResourceTypeContainer,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.task.Kind = KindBroker
			err := f.engine.Create(context.Background(), tt.task)
			require.Error(t, err)
			assert.True(t, errdefs.IsValidation(err))
		})
	}
}

// TestProvisionChain runs a full provision request through its child task
// chain: reservation, allocation, per-instance provisioning with the
// fan-in counter, to completion.
func TestProvisionChain(t *testing.T) {
	f := newFixture(t)

	final := f.runBroker(t, &types.TaskDocument{
		Operation:               types.OperationProvision,
		ResourceType:            types.ResourceTypeContainer,
		ResourceDescriptionLink: "/descriptions/containers/web",
		ResourceCount:           3,
		ResourcePoolLink:        "/pools/p1",
		ContextID:               "ctx-1",
	})

	assert.Equal(t, types.TaskStageFinished, final.Stage)
	assert.Equal(t, types.SubStageCompleted, final.SubStage)
	assert.Len(t, final.ResourceLinks, 3)
	assert.Len(t, f.mock.Created, 3)

	// Every allocated instance exists and is running.
	for _, link := range final.ResourceLinks {
		state, err := f.store.GetResource(link)
		require.NoError(t, err)
		assert.Equal(t, types.PowerStateRunning, state.PowerState)
		assert.Equal(t, "ctx-1", state.ContextID)
	}

	// The reservation landed on the pool's ledger entry.
	placement, err := f.ledger.Get("/pools/p1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), placement.AllocatedInstancesCount)
	assert.Equal(t, int64(3), placement.ResourceQuotaPerDescription["/descriptions/containers/web"])
}

func TestProvisionWithoutPoolSkipsReservation(t *testing.T) {
	f := newFixture(t)

	final := f.runBroker(t, &types.TaskDocument{
		Operation:               types.OperationProvision,
		ResourceType:            types.ResourceTypeContainer,
		ResourceDescriptionLink: "/descriptions/containers/web",
		ResourceCount:           2,
	})

	assert.Equal(t, types.TaskStageFinished, final.Stage)
	assert.Len(t, final.ResourceLinks, 2)

	placements, err := f.store.ListPlacements()
	require.NoError(t, err)
	assert.Empty(t, placements)
}

func TestProvisionQuotaExceededFailsRequest(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.SetQuota("/pools/p1", 1)
	require.NoError(t, err)

	final := f.runBroker(t, &types.TaskDocument{
		Operation:               types.OperationProvision,
		ResourceType:            types.ResourceTypeContainer,
		ResourceDescriptionLink: "/descriptions/containers/web",
		ResourceCount:           2,
		ResourcePoolLink:        "/pools/p1",
	})

	assert.Equal(t, types.TaskStageFailed, final.Stage)
	assert.NotEmpty(t, final.Failure)
	assert.Empty(t, f.mock.Created)
}

func TestProvisionAdapterFailureFailsRequest(t *testing.T) {
	f := newFixture(t)
	f.mock.FailCreate = true

	final := f.runBroker(t, &types.TaskDocument{
		Operation:               types.OperationProvision,
		ResourceType:            types.ResourceTypeContainer,
		ResourceDescriptionLink: "/descriptions/containers/web",
		ResourceCount:           1,
		ResourcePoolLink:        "/pools/p1",
	})

	assert.Equal(t, types.TaskStageFailed, final.Stage)
	assert.Contains(t, final.Failure, "mock create failure")
}

// TestRemoveChainReleasesReservation provisions, then removes, and checks
// the ledger entry is back at zero with all instance documents gone.
func TestRemoveChainReleasesReservation(t *testing.T) {
	f := newFixture(t)

	provisioned := f.runBroker(t, &types.TaskDocument{
		Operation:               types.OperationProvision,
		ResourceType:            types.ResourceTypeContainer,
		ResourceDescriptionLink: "/descriptions/containers/web",
		ResourceCount:           2,
		ResourcePoolLink:        "/pools/p1",
	})
	require.Equal(t, types.TaskStageFinished, provisioned.Stage)
	require.Len(t, provisioned.ResourceLinks, 2)

	removed := f.runBroker(t, &types.TaskDocument{
		Operation:               types.OperationRemove,
		ResourceType:            types.ResourceTypeContainer,
		ResourceDescriptionLink: "/descriptions/containers/web",
		ResourceLinks:           provisioned.ResourceLinks,
		ResourcePoolLink:        "/pools/p1",
	})

	assert.Equal(t, types.TaskStageFinished, removed.Stage)
	assert.ElementsMatch(t, provisioned.ResourceLinks, f.mock.Deleted)

	// The removal child reports the same links its parent already carries;
	// the request must not end up holding each of them twice.
	assert.ElementsMatch(t, provisioned.ResourceLinks, removed.ResourceLinks)

	for _, link := range provisioned.ResourceLinks {
		_, err := f.store.GetResource(link)
		assert.True(t, errdefs.IsNotFound(err))
	}

	placement, err := f.ledger.Get("/pools/p1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), placement.AllocatedInstancesCount)
}

// TestPartialRemoveReleasesHeldCount removes two of three pooled instances
// and expects the ledger to land on exactly one, which a release counted
// off duplicated links would clamp through zero instead.
func TestPartialRemoveReleasesHeldCount(t *testing.T) {
	f := newFixture(t)

	provisioned := f.runBroker(t, &types.TaskDocument{
		Operation:               types.OperationProvision,
		ResourceType:            types.ResourceTypeContainer,
		ResourceDescriptionLink: "/descriptions/containers/web",
		ResourceCount:           3,
		ResourcePoolLink:        "/pools/p1",
	})
	require.Equal(t, types.TaskStageFinished, provisioned.Stage)
	require.Len(t, provisioned.ResourceLinks, 3)

	removed := f.runBroker(t, &types.TaskDocument{
		Operation:               types.OperationRemove,
		ResourceType:            types.ResourceTypeContainer,
		ResourceDescriptionLink: "/descriptions/containers/web",
		ResourceLinks:           provisioned.ResourceLinks[:2],
		ResourcePoolLink:        "/pools/p1",
	})
	require.Equal(t, types.TaskStageFinished, removed.Stage)

	placement, err := f.ledger.Get("/pools/p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), placement.AllocatedInstancesCount)
	assert.Equal(t, int64(1), placement.ResourceQuotaPerDescription["/descriptions/containers/web"])
}

func TestRemoveWithoutPoolSkipsRelease(t *testing.T) {
	f := newFixture(t)

	provisioned := f.runBroker(t, &types.TaskDocument{
		Operation:               types.OperationProvision,
		ResourceType:            types.ResourceTypeContainer,
		ResourceDescriptionLink: "/descriptions/containers/web",
		ResourceCount:           1,
	})
	require.Equal(t, types.TaskStageFinished, provisioned.Stage)

	removed := f.runBroker(t, &types.TaskDocument{
		Operation:     types.OperationRemove,
		ResourceType:  types.ResourceTypeContainer,
		ResourceLinks: provisioned.ResourceLinks,
	})
	assert.Equal(t, types.TaskStageFinished, removed.Stage)
	assert.ElementsMatch(t, provisioned.ResourceLinks, f.mock.Deleted)
}

func TestRemoveAdapterFailureFailsRequest(t *testing.T) {
	f := newFixture(t)
	f.mock.FailDelete = true

	final := f.runBroker(t, &types.TaskDocument{
		Operation:     types.OperationRemove,
		ResourceType:  types.ResourceTypeContainer,
		ResourceLinks: []string{"/resources/containers/r1"},
	})

	assert.Equal(t, types.TaskStageFailed, final.Stage)
	assert.Contains(t, final.Failure, "mock delete failure")
}

// TestCounterFansIn drives the counter directly: N deliveries into the
// counting sub-stage complete it exactly once.
func TestCounterFansIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	counter, err := f.services.newCounter(ctx, 3, types.TaskCallback{})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		child := &types.TaskDocument{
			Kind:          KindProvisioning,
			ResourceType:  types.ResourceTypeContainer,
			ResourceLinks: []string{"/resources/containers/r1"},
			Callback: types.TaskCallback{
				ServiceSelfLink:  counter.SelfLink,
				SubStageComplete: SubStageCounting,
				SubStageFailed:   SubStageCounting,
			},
		}
		// A resource document the provisioning handler can settle.
		require.NoError(t, f.store.CreateResource(&types.ResourceState{
			SelfLink:   "/resources/containers/r1",
			Type:       types.ResourceTypeContainer,
			PowerState: types.PowerStateRunning,
		}))
		require.NoError(t, f.services.startChild(ctx, child))
		f.engine.Wait()
		require.NoError(t, f.store.DeleteResource("/resources/containers/r1"))
	}

	final, err := f.engine.Get(ctx, counter.SelfLink)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStageFinished, final.Stage)
	assert.Equal(t, types.SubStageCompleted, final.SubStage)
}

func TestCounterValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.services.newCounter(context.Background(), 0, types.TaskCallback{})
	require.Error(t, err)
	assert.True(t, errdefs.IsValidation(err))
}
