package adapter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/purser-io/purser/pkg/errdefs"
	"github.com/purser-io/purser/pkg/storage"
	"github.com/purser-io/purser/pkg/types"
)

// ResourcesPrefix is the factory path resource instances are addressable under
const ResourcesPrefix = "/resources/"

// Adapter provides resource-type-specific create and delete. Calls block
// until the resource layer resolves; the owning task invokes them off its
// handler goroutine and re-enters via its next patch.
type Adapter interface {
	Type() types.ResourceType
	// CreateInstances allocates count instances of the description and
	// returns their self-links.
	CreateInstances(ctx context.Context, descriptionLink string, count int64, contextID string) ([]string, error)
	// DeleteInstances tears down the given instances. Absent instances are
	// skipped, not errors.
	DeleteInstances(ctx context.Context, resourceLinks []string) error
}

// Registry holds the adapter for each resource type
type Registry struct {
	mu       sync.RWMutex
	adapters map[types.ResourceType]Adapter
}

// NewRegistry creates an empty adapter registry
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[types.ResourceType]Adapter)}
}

// Register installs the adapter for its resource type, replacing any prior one
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Type()] = a
}

// Get returns the adapter for the resource type
func (r *Registry) Get(t types.ResourceType) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[t]
	if !ok {
		return nil, errdefs.NewValidation("no adapter registered for resource type %q", t)
	}
	return a, nil
}

// instanceName builds a unique instance name from the description name
func instanceName(descName string) string {
	suffix := strings.Split(uuid.New().String(), "-")[0]
	return fmt.Sprintf("%s-%s", descName, suffix)
}

// newResourceState seeds a ResourceState document for a fresh instance
func newResourceState(t types.ResourceType, name, descriptionLink, contextID string) *types.ResourceState {
	return &types.ResourceState{
		SelfLink:        ResourcesPrefix + uuid.New().String(),
		Name:            name,
		Type:            t,
		DescriptionLink: descriptionLink,
		ContextID:       contextID,
		PowerState:      types.PowerStateProvisioning,
		CreatedAt:       time.Now(),
	}
}

// deleteResourceDocs removes the instance documents, skipping absent ones
func deleteResourceDocs(store storage.Store, resourceLinks []string) error {
	for _, link := range resourceLinks {
		if err := store.DeleteResource(link); err != nil {
			return err
		}
	}
	return nil
}
