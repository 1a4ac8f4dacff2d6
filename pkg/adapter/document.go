package adapter

import (
	"context"

	"github.com/purser-io/purser/pkg/errdefs"
	"github.com/purser-io/purser/pkg/storage"
	"github.com/purser-io/purser/pkg/types"
)

// DocumentAdapter serves resource types whose concrete engines live outside
// this process (networks, load balancers): instances exist as documents in
// the store and the external engine reconciles against them.
type DocumentAdapter struct {
	store        storage.Store
	resourceType types.ResourceType
	lookupName   func(descriptionLink string) (string, error)
}

// NewNetworkAdapter creates the document-backed network adapter
func NewNetworkAdapter(store storage.Store) *DocumentAdapter {
	return &DocumentAdapter{
		store:        store,
		resourceType: types.ResourceTypeNetwork,
		lookupName: func(link string) (string, error) {
			desc, err := store.GetNetworkDescription(link)
			if err != nil {
				return "", err
			}
			return desc.Name, nil
		},
	}
}

// NewLoadBalancerAdapter creates the document-backed load balancer adapter
func NewLoadBalancerAdapter(store storage.Store) *DocumentAdapter {
	return &DocumentAdapter{
		store:        store,
		resourceType: types.ResourceTypeLoadBalancer,
		lookupName: func(link string) (string, error) {
			desc, err := store.GetLoadBalancerDescription(link)
			if err != nil {
				return "", err
			}
			return desc.Name, nil
		},
	}
}

// Type returns the resource type this adapter serves
func (a *DocumentAdapter) Type() types.ResourceType {
	return a.resourceType
}

// CreateInstances creates count instance documents for the description
func (a *DocumentAdapter) CreateInstances(ctx context.Context, descriptionLink string,
	count int64, contextID string) ([]string, error) {

	name, err := a.lookupName(descriptionLink)
	if err != nil {
		return nil, err
	}

	links := make([]string, 0, count)
	for i := int64(0); i < count; i++ {
		state := newResourceState(a.resourceType, instanceName(name), descriptionLink, contextID)
		state.PowerState = types.PowerStateRunning
		if err := a.store.CreateResource(state); err != nil {
			return links, err
		}
		links = append(links, state.SelfLink)
	}
	return links, nil
}

// DeleteInstances removes the instance documents
func (a *DocumentAdapter) DeleteInstances(ctx context.Context, resourceLinks []string) error {
	for _, link := range resourceLinks {
		if err := a.store.DeleteResource(link); err != nil && !errdefs.IsNotFound(err) {
			return err
		}
	}
	return nil
}
