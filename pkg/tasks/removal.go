package tasks

import (
	"context"

	"github.com/purser-io/purser/pkg/errdefs"
	"github.com/purser-io/purser/pkg/taskengine"
	"github.com/purser-io/purser/pkg/types"
)

// removalDefinition tears the given instances down through the
// type-specific adapter. Instances already gone are skipped by the
// adapter, so duplicate removal requests settle cleanly.
func (s *Services) removalDefinition() *taskengine.Definition {
	return &taskengine.Definition{
		Kind: KindRemoval,
		SubStages: []types.SubStage{
			types.SubStageCreated,
			types.SubStageCompleted,
			types.SubStageError,
		},
		Handlers: map[types.SubStage]taskengine.HandlerFunc{
			types.SubStageCreated: s.handleRemove,
		},
		Validate: func(task *types.TaskDocument) error {
			if len(task.ResourceLinks) == 0 {
				return errdefs.NewValidation("resourceLinks are required")
			}
			return nil
		},
	}
}

func (s *Services) handleRemove(ctx context.Context, task *types.TaskDocument) error {
	a, err := s.Adapters.Get(task.ResourceType)
	if err != nil {
		return err
	}
	if err := a.DeleteInstances(ctx, task.ResourceLinks); err != nil {
		return err
	}
	return s.Engine.Complete(ctx, task)
}
