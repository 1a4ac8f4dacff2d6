package storage

import (
	"github.com/purser-io/purser/pkg/types"
)

// Store defines the interface for the document store backing Purser.
// Documents are addressed by self-link and mutated through compare-and-swap
// updates keyed on DocumentVersion.
type Store interface {
	// Task documents
	CreateTask(task *types.TaskDocument) error
	GetTask(selfLink string) (*types.TaskDocument, error)
	ListTasks() ([]*types.TaskDocument, error)
	ListTasksByKind(kind string) ([]*types.TaskDocument, error)
	CountTasksByKind(kind string) (int64, error)
	// UpdateTask writes task only when the stored version still equals
	// expectedVersion, then bumps DocumentVersion to expectedVersion+1.
	UpdateTask(task *types.TaskDocument, expectedVersion int64) error
	// DeleteTask is idempotent: deleting an absent document is not an error.
	DeleteTask(selfLink string) error

	// Container descriptions
	CreateContainerDescription(desc *types.ContainerDescription) error
	GetContainerDescription(selfLink string) (*types.ContainerDescription, error)
	ListContainerDescriptions() ([]*types.ContainerDescription, error)
	DeleteContainerDescription(selfLink string) error

	// Volume descriptions
	CreateVolumeDescription(desc *types.VolumeDescription) error
	GetVolumeDescription(selfLink string) (*types.VolumeDescription, error)
	ListVolumeDescriptions() ([]*types.VolumeDescription, error)
	DeleteVolumeDescription(selfLink string) error

	// Network descriptions
	CreateNetworkDescription(desc *types.NetworkDescription) error
	GetNetworkDescription(selfLink string) (*types.NetworkDescription, error)
	ListNetworkDescriptions() ([]*types.NetworkDescription, error)
	DeleteNetworkDescription(selfLink string) error

	// Load balancer descriptions
	CreateLoadBalancerDescription(desc *types.LoadBalancerDescription) error
	GetLoadBalancerDescription(selfLink string) (*types.LoadBalancerDescription, error)
	ListLoadBalancerDescriptions() ([]*types.LoadBalancerDescription, error)
	DeleteLoadBalancerDescription(selfLink string) error

	// Composite descriptions
	CreateCompositeDescription(desc *types.CompositeDescription) error
	GetCompositeDescription(selfLink string) (*types.CompositeDescription, error)
	ListCompositeDescriptions() ([]*types.CompositeDescription, error)
	DeleteCompositeDescription(selfLink string) error

	// Resource instances
	CreateResource(state *types.ResourceState) error
	GetResource(selfLink string) (*types.ResourceState, error)
	ListResources() ([]*types.ResourceState, error)
	ListResourcesByDescription(descriptionLink string) ([]*types.ResourceState, error)
	UpdateResource(state *types.ResourceState) error
	DeleteResource(selfLink string) error

	// Placements (reservation ledger entries)
	CreatePlacement(p *types.Placement) error
	GetPlacement(selfLink string) (*types.Placement, error)
	ListPlacements() ([]*types.Placement, error)
	// UpdatePlacement applies compare-and-swap on DocumentVersion, same
	// discipline as UpdateTask.
	UpdatePlacement(p *types.Placement, expectedVersion int64) error
	DeletePlacement(selfLink string) error

	// Utility
	Close() error
}
