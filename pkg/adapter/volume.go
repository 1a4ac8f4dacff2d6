package adapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/purser-io/purser/pkg/errdefs"
	"github.com/purser-io/purser/pkg/storage"
	"github.com/purser-io/purser/pkg/types"
)

const (
	// DefaultVolumesPath is the base directory for local volume backing
	// directories
	DefaultVolumesPath = "/var/lib/purser/volumes"
)

// VolumeAdapter provisions volume instances. Local-driver volumes get a
// backing directory on the host; custom-driver volumes are tracked as
// documents only, their backing being host independent.
type VolumeAdapter struct {
	store    storage.Store
	basePath string
}

// NewVolumeAdapter creates the volume adapter rooted at basePath
func NewVolumeAdapter(store storage.Store, basePath string) (*VolumeAdapter, error) {
	if basePath == "" {
		basePath = DefaultVolumesPath
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create volumes directory: %w", err)
	}
	return &VolumeAdapter{store: store, basePath: basePath}, nil
}

// Type returns the resource type this adapter serves
func (a *VolumeAdapter) Type() types.ResourceType {
	return types.ResourceTypeVolume
}

// CreateInstances creates count volume instances from the description
func (a *VolumeAdapter) CreateInstances(ctx context.Context, descriptionLink string,
	count int64, contextID string) ([]string, error) {

	desc, err := a.store.GetVolumeDescription(descriptionLink)
	if err != nil {
		return nil, err
	}

	links := make([]string, 0, count)
	for i := int64(0); i < count; i++ {
		state := newResourceState(types.ResourceTypeVolume, instanceName(desc.Name),
			descriptionLink, contextID)

		if desc.Driver == "" || desc.Driver == types.DriverLocal {
			path := filepath.Join(a.basePath, state.Name)
			if err := os.MkdirAll(path, 0755); err != nil {
				return links, &errdefs.AdapterError{
					ResourceType: string(types.ResourceTypeVolume),
					Op:           "create",
					Err:          err,
				}
			}
			state.AdapterReference = path
		}

		state.PowerState = types.PowerStateRunning
		if err := a.store.CreateResource(state); err != nil {
			return links, err
		}
		links = append(links, state.SelfLink)
	}
	return links, nil
}

// DeleteInstances removes the volume instances and their backing directories
func (a *VolumeAdapter) DeleteInstances(ctx context.Context, resourceLinks []string) error {
	for _, link := range resourceLinks {
		state, err := a.store.GetResource(link)
		if err != nil {
			if errdefs.IsNotFound(err) {
				continue
			}
			return err
		}
		if state.AdapterReference != "" {
			if err := os.RemoveAll(state.AdapterReference); err != nil {
				return &errdefs.AdapterError{
					ResourceType: string(types.ResourceTypeVolume),
					Op:           "delete",
					Err:          err,
				}
			}
		}
		if err := a.store.DeleteResource(link); err != nil {
			return err
		}
	}
	return nil
}
