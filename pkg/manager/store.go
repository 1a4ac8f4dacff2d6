package manager

import (
	"github.com/purser-io/purser/pkg/storage"
	"github.com/purser-io/purser/pkg/types"
)

// ReplicatedStore is the store view collaborators hold on a raft node:
// reads are served by the local bolt store, mutations are framed as
// Commands and committed through the raft log so every node's FSM applies
// the same writes in the same order. Typed errors returned by the FSM,
// conflict errors included, surface unchanged to the caller.
type ReplicatedStore struct {
	m *Manager
}

// ReplicatedStore returns the storage.Store that routes mutations through
// the raft log. Bootstrap must have succeeded before any write.
func (m *Manager) ReplicatedStore() storage.Store {
	return &ReplicatedStore{m: m}
}

func (s *ReplicatedStore) submit(op string, version int64, payload interface{}) error {
	cmd, err := NewCommand(op, version, payload)
	if err != nil {
		return err
	}
	return s.m.Apply(cmd)
}

// Task documents

func (s *ReplicatedStore) CreateTask(task *types.TaskDocument) error {
	return s.submit(OpCreateTask, 0, task)
}

func (s *ReplicatedStore) GetTask(selfLink string) (*types.TaskDocument, error) {
	return s.m.store.GetTask(selfLink)
}

func (s *ReplicatedStore) ListTasks() ([]*types.TaskDocument, error) {
	return s.m.store.ListTasks()
}

func (s *ReplicatedStore) ListTasksByKind(kind string) ([]*types.TaskDocument, error) {
	return s.m.store.ListTasksByKind(kind)
}

func (s *ReplicatedStore) CountTasksByKind(kind string) (int64, error) {
	return s.m.store.CountTasksByKind(kind)
}

func (s *ReplicatedStore) UpdateTask(task *types.TaskDocument, expectedVersion int64) error {
	if err := s.submit(OpUpdateTask, expectedVersion, task); err != nil {
		return err
	}
	// The FSM bumps the version on its own copy; mirror the bolt store
	// contract so callers chain the next patch off the new version.
	task.DocumentVersion = expectedVersion + 1
	return nil
}

func (s *ReplicatedStore) DeleteTask(selfLink string) error {
	return s.submit(OpDeleteTask, 0, selfLink)
}

// Container descriptions

func (s *ReplicatedStore) CreateContainerDescription(desc *types.ContainerDescription) error {
	return s.submit(OpCreateContainerDescription, 0, desc)
}

func (s *ReplicatedStore) GetContainerDescription(selfLink string) (*types.ContainerDescription, error) {
	return s.m.store.GetContainerDescription(selfLink)
}

func (s *ReplicatedStore) ListContainerDescriptions() ([]*types.ContainerDescription, error) {
	return s.m.store.ListContainerDescriptions()
}

func (s *ReplicatedStore) DeleteContainerDescription(selfLink string) error {
	return s.submit(OpDeleteContainerDescription, 0, selfLink)
}

// Volume descriptions

func (s *ReplicatedStore) CreateVolumeDescription(desc *types.VolumeDescription) error {
	return s.submit(OpCreateVolumeDescription, 0, desc)
}

func (s *ReplicatedStore) GetVolumeDescription(selfLink string) (*types.VolumeDescription, error) {
	return s.m.store.GetVolumeDescription(selfLink)
}

func (s *ReplicatedStore) ListVolumeDescriptions() ([]*types.VolumeDescription, error) {
	return s.m.store.ListVolumeDescriptions()
}

func (s *ReplicatedStore) DeleteVolumeDescription(selfLink string) error {
	return s.submit(OpDeleteVolumeDescription, 0, selfLink)
}

// Network descriptions

func (s *ReplicatedStore) CreateNetworkDescription(desc *types.NetworkDescription) error {
	return s.submit(OpCreateNetworkDescription, 0, desc)
}

func (s *ReplicatedStore) GetNetworkDescription(selfLink string) (*types.NetworkDescription, error) {
	return s.m.store.GetNetworkDescription(selfLink)
}

func (s *ReplicatedStore) ListNetworkDescriptions() ([]*types.NetworkDescription, error) {
	return s.m.store.ListNetworkDescriptions()
}

func (s *ReplicatedStore) DeleteNetworkDescription(selfLink string) error {
	return s.submit(OpDeleteNetworkDescription, 0, selfLink)
}

// Load balancer descriptions

func (s *ReplicatedStore) CreateLoadBalancerDescription(desc *types.LoadBalancerDescription) error {
	return s.submit(OpCreateLBDescription, 0, desc)
}

func (s *ReplicatedStore) GetLoadBalancerDescription(selfLink string) (*types.LoadBalancerDescription, error) {
	return s.m.store.GetLoadBalancerDescription(selfLink)
}

func (s *ReplicatedStore) ListLoadBalancerDescriptions() ([]*types.LoadBalancerDescription, error) {
	return s.m.store.ListLoadBalancerDescriptions()
}

func (s *ReplicatedStore) DeleteLoadBalancerDescription(selfLink string) error {
	return s.submit(OpDeleteLBDescription, 0, selfLink)
}

// Composite descriptions

func (s *ReplicatedStore) CreateCompositeDescription(desc *types.CompositeDescription) error {
	return s.submit(OpCreateCompositeDescription, 0, desc)
}

func (s *ReplicatedStore) GetCompositeDescription(selfLink string) (*types.CompositeDescription, error) {
	return s.m.store.GetCompositeDescription(selfLink)
}

func (s *ReplicatedStore) ListCompositeDescriptions() ([]*types.CompositeDescription, error) {
	return s.m.store.ListCompositeDescriptions()
}

func (s *ReplicatedStore) DeleteCompositeDescription(selfLink string) error {
	return s.submit(OpDeleteCompositeDescription, 0, selfLink)
}

// Resource instances

func (s *ReplicatedStore) CreateResource(state *types.ResourceState) error {
	return s.submit(OpCreateResource, 0, state)
}

func (s *ReplicatedStore) GetResource(selfLink string) (*types.ResourceState, error) {
	return s.m.store.GetResource(selfLink)
}

func (s *ReplicatedStore) ListResources() ([]*types.ResourceState, error) {
	return s.m.store.ListResources()
}

func (s *ReplicatedStore) ListResourcesByDescription(descriptionLink string) ([]*types.ResourceState, error) {
	return s.m.store.ListResourcesByDescription(descriptionLink)
}

func (s *ReplicatedStore) UpdateResource(state *types.ResourceState) error {
	return s.submit(OpUpdateResource, 0, state)
}

func (s *ReplicatedStore) DeleteResource(selfLink string) error {
	return s.submit(OpDeleteResource, 0, selfLink)
}

// Placements

func (s *ReplicatedStore) CreatePlacement(p *types.Placement) error {
	return s.submit(OpCreatePlacement, 0, p)
}

func (s *ReplicatedStore) GetPlacement(selfLink string) (*types.Placement, error) {
	return s.m.store.GetPlacement(selfLink)
}

func (s *ReplicatedStore) ListPlacements() ([]*types.Placement, error) {
	return s.m.store.ListPlacements()
}

func (s *ReplicatedStore) UpdatePlacement(p *types.Placement, expectedVersion int64) error {
	if err := s.submit(OpUpdatePlacement, expectedVersion, p); err != nil {
		return err
	}
	p.DocumentVersion = expectedVersion + 1
	return nil
}

func (s *ReplicatedStore) DeletePlacement(selfLink string) error {
	return s.submit(OpDeletePlacement, 0, selfLink)
}

// Close is a no-op; the manager owns the underlying bolt handle and closes
// it on Shutdown.
func (s *ReplicatedStore) Close() error {
	return nil
}
