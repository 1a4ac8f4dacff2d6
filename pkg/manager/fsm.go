package manager

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/purser-io/purser/pkg/storage"
	"github.com/purser-io/purser/pkg/types"
)

// Command operations replicated through the raft log
const (
	OpCreateTask = "create_task"
	OpUpdateTask = "update_task"
	OpDeleteTask = "delete_task"

	OpCreateResource = "create_resource"
	OpUpdateResource = "update_resource"
	OpDeleteResource = "delete_resource"

	OpCreatePlacement = "create_placement"
	OpUpdatePlacement = "update_placement"
	OpDeletePlacement = "delete_placement"

	OpCreateContainerDescription = "create_container_description"
	OpDeleteContainerDescription = "delete_container_description"
	OpCreateVolumeDescription    = "create_volume_description"
	OpDeleteVolumeDescription    = "delete_volume_description"
	OpCreateNetworkDescription   = "create_network_description"
	OpDeleteNetworkDescription   = "delete_network_description"
	OpCreateLBDescription        = "create_load_balancer_description"
	OpDeleteLBDescription        = "delete_load_balancer_description"
	OpCreateCompositeDescription = "create_composite_description"
	OpDeleteCompositeDescription = "delete_composite_description"
)

// Command is one state change in the raft log. Version carries the
// expected document version for compare-and-swap updates.
type Command struct {
	Op      string          `json:"op"`
	Version int64           `json:"version,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// NewCommand marshals payload into a Command
func NewCommand(op string, version int64, payload interface{}) (Command, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Command{}, err
	}
	return Command{Op: op, Version: version, Data: data}, nil
}

// FSM applies committed raft log entries to the document store
type FSM struct {
	mu    sync.RWMutex
	store storage.Store
}

// NewFSM creates a raft FSM over the given store
func NewFSM(store storage.Store) *FSM {
	return &FSM{store: store}
}

// Apply applies one committed log entry. Returned errors surface through
// the raft apply future's response.
func (f *FSM) Apply(entry *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(entry.Data, &cmd); err != nil {
		return fmt.Errorf("unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case OpCreateTask:
		var task types.TaskDocument
		if err := json.Unmarshal(cmd.Data, &task); err != nil {
			return err
		}
		return f.store.CreateTask(&task)

	case OpUpdateTask:
		var task types.TaskDocument
		if err := json.Unmarshal(cmd.Data, &task); err != nil {
			return err
		}
		return f.store.UpdateTask(&task, cmd.Version)

	case OpDeleteTask:
		var selfLink string
		if err := json.Unmarshal(cmd.Data, &selfLink); err != nil {
			return err
		}
		return f.store.DeleteTask(selfLink)

	case OpCreateResource:
		var state types.ResourceState
		if err := json.Unmarshal(cmd.Data, &state); err != nil {
			return err
		}
		return f.store.CreateResource(&state)

	case OpUpdateResource:
		var state types.ResourceState
		if err := json.Unmarshal(cmd.Data, &state); err != nil {
			return err
		}
		return f.store.UpdateResource(&state)

	case OpDeleteResource:
		var selfLink string
		if err := json.Unmarshal(cmd.Data, &selfLink); err != nil {
			return err
		}
		return f.store.DeleteResource(selfLink)

	case OpCreatePlacement:
		var p types.Placement
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		return f.store.CreatePlacement(&p)

	case OpUpdatePlacement:
		var p types.Placement
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		return f.store.UpdatePlacement(&p, cmd.Version)

	case OpDeletePlacement:
		var selfLink string
		if err := json.Unmarshal(cmd.Data, &selfLink); err != nil {
			return err
		}
		return f.store.DeletePlacement(selfLink)

	case OpCreateContainerDescription:
		var desc types.ContainerDescription
		if err := json.Unmarshal(cmd.Data, &desc); err != nil {
			return err
		}
		return f.store.CreateContainerDescription(&desc)

	case OpDeleteContainerDescription:
		var selfLink string
		if err := json.Unmarshal(cmd.Data, &selfLink); err != nil {
			return err
		}
		return f.store.DeleteContainerDescription(selfLink)

	case OpCreateVolumeDescription:
		var desc types.VolumeDescription
		if err := json.Unmarshal(cmd.Data, &desc); err != nil {
			return err
		}
		return f.store.CreateVolumeDescription(&desc)

	case OpDeleteVolumeDescription:
		var selfLink string
		if err := json.Unmarshal(cmd.Data, &selfLink); err != nil {
			return err
		}
		return f.store.DeleteVolumeDescription(selfLink)

	case OpCreateNetworkDescription:
		var desc types.NetworkDescription
		if err := json.Unmarshal(cmd.Data, &desc); err != nil {
			return err
		}
		return f.store.CreateNetworkDescription(&desc)

	case OpDeleteNetworkDescription:
		var selfLink string
		if err := json.Unmarshal(cmd.Data, &selfLink); err != nil {
			return err
		}
		return f.store.DeleteNetworkDescription(selfLink)

	case OpCreateLBDescription:
		var desc types.LoadBalancerDescription
		if err := json.Unmarshal(cmd.Data, &desc); err != nil {
			return err
		}
		return f.store.CreateLoadBalancerDescription(&desc)

	case OpDeleteLBDescription:
		var selfLink string
		if err := json.Unmarshal(cmd.Data, &selfLink); err != nil {
			return err
		}
		return f.store.DeleteLoadBalancerDescription(selfLink)

	case OpCreateCompositeDescription:
		var desc types.CompositeDescription
		if err := json.Unmarshal(cmd.Data, &desc); err != nil {
			return err
		}
		return f.store.CreateCompositeDescription(&desc)

	case OpDeleteCompositeDescription:
		var selfLink string
		if err := json.Unmarshal(cmd.Data, &selfLink); err != nil {
			return err
		}
		return f.store.DeleteCompositeDescription(selfLink)

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// Snapshot captures the replicated document state for log compaction
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	tasks, err := f.store.ListTasks()
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	resources, err := f.store.ListResources()
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	placements, err := f.store.ListPlacements()
	if err != nil {
		return nil, fmt.Errorf("list placements: %w", err)
	}
	containerDescs, err := f.store.ListContainerDescriptions()
	if err != nil {
		return nil, fmt.Errorf("list container descriptions: %w", err)
	}
	volumeDescs, err := f.store.ListVolumeDescriptions()
	if err != nil {
		return nil, fmt.Errorf("list volume descriptions: %w", err)
	}
	networkDescs, err := f.store.ListNetworkDescriptions()
	if err != nil {
		return nil, fmt.Errorf("list network descriptions: %w", err)
	}
	lbDescs, err := f.store.ListLoadBalancerDescriptions()
	if err != nil {
		return nil, fmt.Errorf("list load balancer descriptions: %w", err)
	}
	composites, err := f.store.ListCompositeDescriptions()
	if err != nil {
		return nil, fmt.Errorf("list composite descriptions: %w", err)
	}

	return &Snapshot{
		Tasks:                    tasks,
		Resources:                resources,
		Placements:               placements,
		ContainerDescriptions:    containerDescs,
		VolumeDescriptions:       volumeDescs,
		NetworkDescriptions:      networkDescs,
		LoadBalancerDescriptions: lbDescs,
		CompositeDescriptions:    composites,
	}, nil
}

// Restore rebuilds the document state from a snapshot
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snapshot Snapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, task := range snapshot.Tasks {
		if err := f.store.CreateTask(task); err != nil {
			return fmt.Errorf("restore task %s: %w", task.SelfLink, err)
		}
	}
	for _, resource := range snapshot.Resources {
		if err := f.store.CreateResource(resource); err != nil {
			return fmt.Errorf("restore resource %s: %w", resource.SelfLink, err)
		}
	}
	for _, p := range snapshot.Placements {
		if err := f.store.CreatePlacement(p); err != nil {
			return fmt.Errorf("restore placement %s: %w", p.SelfLink, err)
		}
	}
	for _, desc := range snapshot.ContainerDescriptions {
		if err := f.store.CreateContainerDescription(desc); err != nil {
			return fmt.Errorf("restore container description %s: %w", desc.SelfLink, err)
		}
	}
	for _, desc := range snapshot.VolumeDescriptions {
		if err := f.store.CreateVolumeDescription(desc); err != nil {
			return fmt.Errorf("restore volume description %s: %w", desc.SelfLink, err)
		}
	}
	for _, desc := range snapshot.NetworkDescriptions {
		if err := f.store.CreateNetworkDescription(desc); err != nil {
			return fmt.Errorf("restore network description %s: %w", desc.SelfLink, err)
		}
	}
	for _, desc := range snapshot.LoadBalancerDescriptions {
		if err := f.store.CreateLoadBalancerDescription(desc); err != nil {
			return fmt.Errorf("restore load balancer description %s: %w", desc.SelfLink, err)
		}
	}
	for _, desc := range snapshot.CompositeDescriptions {
		if err := f.store.CreateCompositeDescription(desc); err != nil {
			return fmt.Errorf("restore composite description %s: %w", desc.SelfLink, err)
		}
	}
	return nil
}

// Snapshot is a point-in-time copy of the replicated documents
type Snapshot struct {
	Tasks                    []*types.TaskDocument             `json:"tasks"`
	Resources                []*types.ResourceState            `json:"resources"`
	Placements               []*types.Placement                `json:"placements"`
	ContainerDescriptions    []*types.ContainerDescription     `json:"containerDescriptions"`
	VolumeDescriptions       []*types.VolumeDescription        `json:"volumeDescriptions"`
	NetworkDescriptions      []*types.NetworkDescription       `json:"networkDescriptions"`
	LoadBalancerDescriptions []*types.LoadBalancerDescription `json:"loadBalancerDescriptions"`
	CompositeDescriptions    []*types.CompositeDescription    `json:"compositeDescriptions"`
}

// Persist writes the snapshot to the sink
func (s *Snapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

// Release releases snapshot resources
func (s *Snapshot) Release() {}
