package adapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/purser-io/purser/pkg/errdefs"
	"github.com/purser-io/purser/pkg/storage"
	"github.com/purser-io/purser/pkg/types"
)

// MockAdapter is an in-memory adapter for tests. It creates plain instance
// documents and can be told to fail, simulating a resource-layer outage.
type MockAdapter struct {
	store        storage.Store
	resourceType types.ResourceType

	mu         sync.Mutex
	FailCreate bool
	FailDelete bool
	Created    []string
	Deleted    []string
}

// NewMockAdapter creates a mock adapter for the given resource type
func NewMockAdapter(store storage.Store, t types.ResourceType) *MockAdapter {
	return &MockAdapter{store: store, resourceType: t}
}

// Type returns the resource type this adapter serves
func (a *MockAdapter) Type() types.ResourceType {
	return a.resourceType
}

// CreateInstances creates count instance documents, or fails when FailCreate
// is set
func (a *MockAdapter) CreateInstances(ctx context.Context, descriptionLink string,
	count int64, contextID string) ([]string, error) {

	a.mu.Lock()
	fail := a.FailCreate
	a.mu.Unlock()
	if fail {
		return nil, &errdefs.AdapterError{
			ResourceType: string(a.resourceType),
			Op:           "create",
			Err:          fmt.Errorf("mock create failure"),
		}
	}

	links := make([]string, 0, count)
	for i := int64(0); i < count; i++ {
		state := newResourceState(a.resourceType,
			instanceName(fmt.Sprintf("mock-%s", a.resourceType)), descriptionLink, contextID)
		state.PowerState = types.PowerStateRunning
		if err := a.store.CreateResource(state); err != nil {
			return links, err
		}
		links = append(links, state.SelfLink)
	}

	a.mu.Lock()
	a.Created = append(a.Created, links...)
	a.mu.Unlock()
	return links, nil
}

// DeleteInstances deletes the instance documents, or fails when FailDelete
// is set
func (a *MockAdapter) DeleteInstances(ctx context.Context, resourceLinks []string) error {
	a.mu.Lock()
	fail := a.FailDelete
	a.mu.Unlock()
	if fail {
		return &errdefs.AdapterError{
			ResourceType: string(a.resourceType),
			Op:           "delete",
			Err:          fmt.Errorf("mock delete failure"),
		}
	}

	if err := deleteResourceDocs(a.store, resourceLinks); err != nil {
		return err
	}
	a.mu.Lock()
	a.Deleted = append(a.Deleted, resourceLinks...)
	a.mu.Unlock()
	return nil
}
