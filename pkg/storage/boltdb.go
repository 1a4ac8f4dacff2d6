package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/purser-io/purser/pkg/errdefs"
	"github.com/purser-io/purser/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketTasks           = []byte("tasks")
	bucketContainerDescs  = []byte("container_descriptions")
	bucketVolumeDescs     = []byte("volume_descriptions")
	bucketNetworkDescs    = []byte("network_descriptions")
	bucketLBDescs         = []byte("load_balancer_descriptions")
	bucketComposites      = []byte("composite_descriptions")
	bucketResources       = []byte("resources")
	bucketPlacements      = []byte("placements")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "purser.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketTasks,
			bucketContainerDescs,
			bucketVolumeDescs,
			bucketNetworkDescs,
			bucketLBDescs,
			bucketComposites,
			bucketResources,
			bucketPlacements,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// put marshals v into bucket under key, overwriting any prior value
func (s *BoltStore) put(bucket []byte, key string, v interface{}) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

// get unmarshals the value under key into v, or returns NotFoundError
func (s *BoltStore) get(bucket []byte, key string, v interface{}) error {
	return s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return &errdefs.NotFoundError{Link: key}
		}
		return json.Unmarshal(data, v)
	})
}

func (s *BoltStore) delete(bucket []byte, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}

// Task operations

func (s *BoltStore) CreateTask(task *types.TaskDocument) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		if b.Get([]byte(task.SelfLink)) != nil {
			return fmt.Errorf("task already exists: %s", task.SelfLink)
		}
		data, err := json.Marshal(task)
		if err != nil {
			return err
		}
		return b.Put([]byte(task.SelfLink), data)
	})
}

func (s *BoltStore) GetTask(selfLink string) (*types.TaskDocument, error) {
	var task types.TaskDocument
	if err := s.get(bucketTasks, selfLink, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *BoltStore) ListTasks() ([]*types.TaskDocument, error) {
	var tasks []*types.TaskDocument
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var task types.TaskDocument
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			tasks = append(tasks, &task)
			return nil
		})
	})
	return tasks, err
}

func (s *BoltStore) ListTasksByKind(kind string) ([]*types.TaskDocument, error) {
	tasks, err := s.ListTasks()
	if err != nil {
		return nil, err
	}
	var filtered []*types.TaskDocument
	for _, task := range tasks {
		if task.Kind == kind {
			filtered = append(filtered, task)
		}
	}
	return filtered, nil
}

func (s *BoltStore) CountTasksByKind(kind string) (int64, error) {
	tasks, err := s.ListTasksByKind(kind)
	if err != nil {
		return 0, err
	}
	return int64(len(tasks)), nil
}

// UpdateTask writes the task only when the stored version still equals
// expectedVersion. The read-check-write runs inside one bolt transaction so
// concurrent patches to the same document serialize.
func (s *BoltStore) UpdateTask(task *types.TaskDocument, expectedVersion int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data := b.Get([]byte(task.SelfLink))
		if data == nil {
			return &errdefs.NotFoundError{Link: task.SelfLink}
		}
		var current types.TaskDocument
		if err := json.Unmarshal(data, &current); err != nil {
			return err
		}
		if current.DocumentVersion != expectedVersion {
			return &errdefs.ConflictError{
				Link:            task.SelfLink,
				CurrentVersion:  current.DocumentVersion,
				ProposedVersion: expectedVersion,
			}
		}
		task.DocumentVersion = expectedVersion + 1
		updated, err := json.Marshal(task)
		if err != nil {
			return err
		}
		return b.Put([]byte(task.SelfLink), updated)
	})
}

func (s *BoltStore) DeleteTask(selfLink string) error {
	return s.delete(bucketTasks, selfLink)
}

// Container description operations

func (s *BoltStore) CreateContainerDescription(desc *types.ContainerDescription) error {
	return s.put(bucketContainerDescs, desc.SelfLink, desc)
}

func (s *BoltStore) GetContainerDescription(selfLink string) (*types.ContainerDescription, error) {
	var desc types.ContainerDescription
	if err := s.get(bucketContainerDescs, selfLink, &desc); err != nil {
		return nil, err
	}
	return &desc, nil
}

func (s *BoltStore) ListContainerDescriptions() ([]*types.ContainerDescription, error) {
	var descs []*types.ContainerDescription
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketContainerDescs).ForEach(func(k, v []byte) error {
			var desc types.ContainerDescription
			if err := json.Unmarshal(v, &desc); err != nil {
				return err
			}
			descs = append(descs, &desc)
			return nil
		})
	})
	return descs, err
}

func (s *BoltStore) DeleteContainerDescription(selfLink string) error {
	return s.delete(bucketContainerDescs, selfLink)
}

// Volume description operations

func (s *BoltStore) CreateVolumeDescription(desc *types.VolumeDescription) error {
	return s.put(bucketVolumeDescs, desc.SelfLink, desc)
}

func (s *BoltStore) GetVolumeDescription(selfLink string) (*types.VolumeDescription, error) {
	var desc types.VolumeDescription
	if err := s.get(bucketVolumeDescs, selfLink, &desc); err != nil {
		return nil, err
	}
	return &desc, nil
}

func (s *BoltStore) ListVolumeDescriptions() ([]*types.VolumeDescription, error) {
	var descs []*types.VolumeDescription
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVolumeDescs).ForEach(func(k, v []byte) error {
			var desc types.VolumeDescription
			if err := json.Unmarshal(v, &desc); err != nil {
				return err
			}
			descs = append(descs, &desc)
			return nil
		})
	})
	return descs, err
}

func (s *BoltStore) DeleteVolumeDescription(selfLink string) error {
	return s.delete(bucketVolumeDescs, selfLink)
}

// Network description operations

func (s *BoltStore) CreateNetworkDescription(desc *types.NetworkDescription) error {
	return s.put(bucketNetworkDescs, desc.SelfLink, desc)
}

func (s *BoltStore) GetNetworkDescription(selfLink string) (*types.NetworkDescription, error) {
	var desc types.NetworkDescription
	if err := s.get(bucketNetworkDescs, selfLink, &desc); err != nil {
		return nil, err
	}
	return &desc, nil
}

func (s *BoltStore) ListNetworkDescriptions() ([]*types.NetworkDescription, error) {
	var descs []*types.NetworkDescription
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNetworkDescs).ForEach(func(k, v []byte) error {
			var desc types.NetworkDescription
			if err := json.Unmarshal(v, &desc); err != nil {
				return err
			}
			descs = append(descs, &desc)
			return nil
		})
	})
	return descs, err
}

func (s *BoltStore) DeleteNetworkDescription(selfLink string) error {
	return s.delete(bucketNetworkDescs, selfLink)
}

// Load balancer description operations

func (s *BoltStore) CreateLoadBalancerDescription(desc *types.LoadBalancerDescription) error {
	return s.put(bucketLBDescs, desc.SelfLink, desc)
}

func (s *BoltStore) GetLoadBalancerDescription(selfLink string) (*types.LoadBalancerDescription, error) {
	var desc types.LoadBalancerDescription
	if err := s.get(bucketLBDescs, selfLink, &desc); err != nil {
		return nil, err
	}
	return &desc, nil
}

func (s *BoltStore) ListLoadBalancerDescriptions() ([]*types.LoadBalancerDescription, error) {
	var descs []*types.LoadBalancerDescription
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLBDescs).ForEach(func(k, v []byte) error {
			var desc types.LoadBalancerDescription
			if err := json.Unmarshal(v, &desc); err != nil {
				return err
			}
			descs = append(descs, &desc)
			return nil
		})
	})
	return descs, err
}

func (s *BoltStore) DeleteLoadBalancerDescription(selfLink string) error {
	return s.delete(bucketLBDescs, selfLink)
}

// Composite description operations

func (s *BoltStore) CreateCompositeDescription(desc *types.CompositeDescription) error {
	return s.put(bucketComposites, desc.SelfLink, desc)
}

func (s *BoltStore) GetCompositeDescription(selfLink string) (*types.CompositeDescription, error) {
	var desc types.CompositeDescription
	if err := s.get(bucketComposites, selfLink, &desc); err != nil {
		return nil, err
	}
	return &desc, nil
}

func (s *BoltStore) ListCompositeDescriptions() ([]*types.CompositeDescription, error) {
	var descs []*types.CompositeDescription
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketComposites).ForEach(func(k, v []byte) error {
			var desc types.CompositeDescription
			if err := json.Unmarshal(v, &desc); err != nil {
				return err
			}
			descs = append(descs, &desc)
			return nil
		})
	})
	return descs, err
}

func (s *BoltStore) DeleteCompositeDescription(selfLink string) error {
	return s.delete(bucketComposites, selfLink)
}

// Resource instance operations

func (s *BoltStore) CreateResource(state *types.ResourceState) error {
	return s.put(bucketResources, state.SelfLink, state)
}

func (s *BoltStore) GetResource(selfLink string) (*types.ResourceState, error) {
	var state types.ResourceState
	if err := s.get(bucketResources, selfLink, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *BoltStore) ListResources() ([]*types.ResourceState, error) {
	var states []*types.ResourceState
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketResources).ForEach(func(k, v []byte) error {
			var state types.ResourceState
			if err := json.Unmarshal(v, &state); err != nil {
				return err
			}
			states = append(states, &state)
			return nil
		})
	})
	return states, err
}

func (s *BoltStore) ListResourcesByDescription(descriptionLink string) ([]*types.ResourceState, error) {
	states, err := s.ListResources()
	if err != nil {
		return nil, err
	}
	var filtered []*types.ResourceState
	for _, state := range states {
		if state.DescriptionLink == descriptionLink {
			filtered = append(filtered, state)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateResource(state *types.ResourceState) error {
	return s.put(bucketResources, state.SelfLink, state)
}

func (s *BoltStore) DeleteResource(selfLink string) error {
	return s.delete(bucketResources, selfLink)
}

// Placement operations

func (s *BoltStore) CreatePlacement(p *types.Placement) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPlacements)
		if b.Get([]byte(p.SelfLink)) != nil {
			return fmt.Errorf("placement already exists: %s", p.SelfLink)
		}
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return b.Put([]byte(p.SelfLink), data)
	})
}

func (s *BoltStore) GetPlacement(selfLink string) (*types.Placement, error) {
	var p types.Placement
	if err := s.get(bucketPlacements, selfLink, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *BoltStore) ListPlacements() ([]*types.Placement, error) {
	var placements []*types.Placement
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPlacements).ForEach(func(k, v []byte) error {
			var p types.Placement
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			placements = append(placements, &p)
			return nil
		})
	})
	return placements, err
}

func (s *BoltStore) UpdatePlacement(p *types.Placement, expectedVersion int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPlacements)
		data := b.Get([]byte(p.SelfLink))
		if data == nil {
			return &errdefs.NotFoundError{Link: p.SelfLink}
		}
		var current types.Placement
		if err := json.Unmarshal(data, &current); err != nil {
			return err
		}
		if current.DocumentVersion != expectedVersion {
			return &errdefs.ConflictError{
				Link:            p.SelfLink,
				CurrentVersion:  current.DocumentVersion,
				ProposedVersion: expectedVersion,
			}
		}
		p.DocumentVersion = expectedVersion + 1
		updated, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return b.Put([]byte(p.SelfLink), updated)
	})
}

func (s *BoltStore) DeletePlacement(selfLink string) error {
	return s.delete(bucketPlacements, selfLink)
}
