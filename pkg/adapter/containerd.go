package adapter

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/purser-io/purser/pkg/errdefs"
	"github.com/purser-io/purser/pkg/log"
	"github.com/purser-io/purser/pkg/storage"
	"github.com/purser-io/purser/pkg/types"
)

const (
	// DefaultNamespace is the containerd namespace for Purser
	DefaultNamespace = "purser"

	// DefaultSocketPath is the default containerd socket
	DefaultSocketPath = "/run/containerd/containerd.sock"

	stopTimeout = 10 * time.Second
)

// ContainerdAdapter implements the container adapter against containerd
type ContainerdAdapter struct {
	client    *containerd.Client
	store     storage.Store
	namespace string
}

// NewContainerdAdapter connects to containerd and returns the container
// adapter
func NewContainerdAdapter(socketPath string, store storage.Store) (*ContainerdAdapter, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}

	return &ContainerdAdapter{
		client:    client,
		store:     store,
		namespace: DefaultNamespace,
	}, nil
}

// Close closes the containerd client connection
func (a *ContainerdAdapter) Close() error {
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

// Type returns the resource type this adapter serves
func (a *ContainerdAdapter) Type() types.ResourceType {
	return types.ResourceTypeContainer
}

// CreateInstances pulls the description's image and creates count running
// containers, persisting one ResourceState per instance
func (a *ContainerdAdapter) CreateInstances(ctx context.Context, descriptionLink string,
	count int64, contextID string) ([]string, error) {

	desc, err := a.store.GetContainerDescription(descriptionLink)
	if err != nil {
		return nil, err
	}

	cctx := namespaces.WithNamespace(ctx, a.namespace)
	image, err := a.client.Pull(cctx, desc.Image, containerd.WithPullUnpack)
	if err != nil {
		return nil, &errdefs.AdapterError{
			ResourceType: string(types.ResourceTypeContainer),
			Op:           "pull",
			Err:          err,
		}
	}

	logger := log.WithComponent("containerd-adapter")
	links := make([]string, 0, count)
	for i := int64(0); i < count; i++ {
		state := newResourceState(types.ResourceTypeContainer, instanceName(desc.Name),
			descriptionLink, contextID)
		state.Env = desc.Env

		containerID, err := a.createContainer(cctx, state.Name, image, desc)
		if err != nil {
			return links, &errdefs.AdapterError{
				ResourceType: string(types.ResourceTypeContainer),
				Op:           "create",
				Err:          err,
			}
		}
		if err := a.startContainer(cctx, containerID); err != nil {
			return links, &errdefs.AdapterError{
				ResourceType: string(types.ResourceTypeContainer),
				Op:           "start",
				Err:          err,
			}
		}

		state.AdapterReference = containerID
		state.PowerState = types.PowerStateRunning
		if err := a.store.CreateResource(state); err != nil {
			return links, err
		}
		logger.Debug().Str("container", containerID).Msg("Started container instance")
		links = append(links, state.SelfLink)
	}
	return links, nil
}

// DeleteInstances stops and removes the containers behind the given links
func (a *ContainerdAdapter) DeleteInstances(ctx context.Context, resourceLinks []string) error {
	cctx := namespaces.WithNamespace(ctx, a.namespace)
	for _, link := range resourceLinks {
		state, err := a.store.GetResource(link)
		if err != nil {
			if errdefs.IsNotFound(err) {
				continue
			}
			return err
		}
		if state.AdapterReference != "" {
			if err := a.deleteContainer(cctx, state.AdapterReference); err != nil {
				return &errdefs.AdapterError{
					ResourceType: string(types.ResourceTypeContainer),
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

func (a *ContainerdAdapter) createContainer(ctx context.Context, name string,
	image containerd.Image, desc *types.ContainerDescription) (string, error) {

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(desc.Env),
	}

	if len(desc.Volumes) > 0 {
		mounts := make([]specs.Mount, 0, len(desc.Volumes))
		for _, binding := range desc.Volumes {
			src, dst, ok := splitVolumeBinding(binding)
			if !ok {
				continue
			}
			mounts = append(mounts, specs.Mount{
				Source:      src,
				Destination: dst,
				Type:        "bind",
				Options:     []string{"rbind", "rw"},
			})
		}
		opts = append(opts, oci.WithMounts(mounts))
	}

	container, err := a.client.NewContainer(
		ctx,
		name,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(name+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	return container.ID(), nil
}

func (a *ContainerdAdapter) startContainer(ctx context.Context, containerID string) error {
	container, err := a.client.LoadContainer(ctx, containerID)
	if err != nil {
		return fmt.Errorf("failed to load container %s: %w", containerID, err)
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	if err := task.Start(ctx); err != nil {
		return fmt.Errorf("failed to start task: %w", err)
	}

	return nil
}

func (a *ContainerdAdapter) stopContainer(ctx context.Context, containerID string) error {
	container, err := a.client.LoadContainer(ctx, containerID)
	if err != nil {
		return fmt.Errorf("failed to load container %s: %w", containerID, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		// no task means the container is not running
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to kill task: %w", err)
	}

	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return fmt.Errorf("failed to wait for task: %w", err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		// graceful stop timed out, force kill
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return fmt.Errorf("failed to force kill task: %w", err)
		}
	}

	if _, err := task.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	return nil
}

func (a *ContainerdAdapter) deleteContainer(ctx context.Context, containerID string) error {
	container, err := a.client.LoadContainer(ctx, containerID)
	if err != nil {
		// container already gone
		return nil
	}

	if err := a.stopContainer(ctx, containerID); err != nil {
		log.WithComponent("containerd-adapter").Warn().Err(err).
			Str("container", containerID).
			Msg("Failed to stop container before delete")
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("failed to delete container: %w", err)
	}

	return nil
}

func splitVolumeBinding(binding string) (src, dst string, ok bool) {
	for i := 0; i < len(binding); i++ {
		if binding[i] == ':' {
			return binding[:i], binding[i+1:], i > 0 && i < len(binding)-1
		}
	}
	return "", "", false
}
