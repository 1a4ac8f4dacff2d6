package tasks

import (
	"context"

	"github.com/purser-io/purser/pkg/errdefs"
	"github.com/purser-io/purser/pkg/taskengine"
	"github.com/purser-io/purser/pkg/types"
)

// provisioningDefinition finalizes one allocated instance: propagates the
// request's custom properties onto the instance document and settles its
// power state
func (s *Services) provisioningDefinition() *taskengine.Definition {
	return &taskengine.Definition{
		Kind: KindProvisioning,
		SubStages: []types.SubStage{
			types.SubStageCreated,
			types.SubStageCompleted,
			types.SubStageError,
		},
		Handlers: map[types.SubStage]taskengine.HandlerFunc{
			types.SubStageCreated: s.handleProvision,
		},
		Validate: func(task *types.TaskDocument) error {
			if len(task.ResourceLinks) != 1 {
				return errdefs.NewValidation("provisioning acts on exactly one resource, got %d",
					len(task.ResourceLinks))
			}
			return nil
		},
	}
}

func (s *Services) handleProvision(ctx context.Context, task *types.TaskDocument) error {
	resource, err := s.Store.GetResource(task.ResourceLinks[0])
	if err != nil {
		return err
	}

	if len(task.CustomProperties) > 0 {
		if resource.CustomProperties == nil {
			resource.CustomProperties = make(map[string]string)
		}
		for k, v := range task.CustomProperties {
			resource.CustomProperties[k] = v
		}
	}
	if resource.PowerState == types.PowerStateProvisioning {
		resource.PowerState = types.PowerStateRunning
	}
	if err := s.Store.UpdateResource(resource); err != nil {
		return err
	}
	return s.Engine.Complete(ctx, task)
}
