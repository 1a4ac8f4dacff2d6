package tasks

import (
	"context"

	"github.com/purser-io/purser/pkg/errdefs"
	"github.com/purser-io/purser/pkg/taskengine"
	"github.com/purser-io/purser/pkg/types"
)

// allocationDefinition creates the resource instances through the
// type-specific adapter and reports their links back to the caller
func (s *Services) allocationDefinition() *taskengine.Definition {
	return &taskengine.Definition{
		Kind: KindAllocation,
		SubStages: []types.SubStage{
			types.SubStageCreated,
			types.SubStageCompleted,
			types.SubStageError,
		},
		Handlers: map[types.SubStage]taskengine.HandlerFunc{
			types.SubStageCreated: s.handleAllocate,
		},
		Validate: func(task *types.TaskDocument) error {
			if task.ResourceDescriptionLink == "" {
				return errdefs.NewValidation("resourceDescriptionLink is required")
			}
			if task.ResourceCount <= 0 {
				return errdefs.NewValidation("resourceCount must be positive, got %d", task.ResourceCount)
			}
			return nil
		},
	}
}

func (s *Services) handleAllocate(ctx context.Context, task *types.TaskDocument) error {
	a, err := s.Adapters.Get(task.ResourceType)
	if err != nil {
		return err
	}
	links, err := a.CreateInstances(ctx, task.ResourceDescriptionLink,
		task.ResourceCount, task.ContextID)
	if err != nil {
		return err
	}
	return s.Engine.Apply(ctx, task.SelfLink, &taskengine.Patch{
		Stage:           types.TaskStageFinished,
		SubStage:        types.SubStageCompleted,
		DocumentVersion: task.DocumentVersion + 1,
		ResourceLinks:   links,
	})
}
