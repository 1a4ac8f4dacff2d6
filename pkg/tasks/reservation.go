package tasks

import (
	"context"

	"github.com/purser-io/purser/pkg/errdefs"
	"github.com/purser-io/purser/pkg/taskengine"
	"github.com/purser-io/purser/pkg/types"
)

// reservationDefinition reserves capacity against the resource pool's
// placement before any allocation happens
func (s *Services) reservationDefinition() *taskengine.Definition {
	return &taskengine.Definition{
		Kind: KindReservation,
		SubStages: []types.SubStage{
			types.SubStageCreated,
			types.SubStageCompleted,
			types.SubStageError,
		},
		Handlers: map[types.SubStage]taskengine.HandlerFunc{
			types.SubStageCreated: s.handleReserve,
		},
		Validate: validateReservation,
	}
}

// reservationRemovalDefinition releases previously reserved capacity back
// to the pool's placement
func (s *Services) reservationRemovalDefinition() *taskengine.Definition {
	return &taskengine.Definition{
		Kind: KindReservationRemoval,
		SubStages: []types.SubStage{
			types.SubStageCreated,
			types.SubStageCompleted,
			types.SubStageError,
		},
		Handlers: map[types.SubStage]taskengine.HandlerFunc{
			types.SubStageCreated: s.handleRelease,
		},
		Validate: validateReservation,
	}
}

func validateReservation(task *types.TaskDocument) error {
	if task.ResourcePoolLink == "" {
		return errdefs.NewValidation("resourcePoolLink is required")
	}
	if task.ResourceDescriptionLink == "" {
		return errdefs.NewValidation("resourceDescriptionLink is required")
	}
	if task.ResourceCount <= 0 {
		return errdefs.NewValidation("resourceCount must be positive, got %d", task.ResourceCount)
	}
	return nil
}

func (s *Services) handleReserve(ctx context.Context, task *types.TaskDocument) error {
	placement, err := s.Ledger.Reserve(task.ResourcePoolLink,
		task.ResourceDescriptionLink, task.ResourceCount)
	if err != nil {
		return err
	}
	return s.Engine.Apply(ctx, task.SelfLink, &taskengine.Patch{
		Stage:            types.TaskStageFinished,
		SubStage:         types.SubStageCompleted,
		DocumentVersion:  task.DocumentVersion + 1,
		CustomProperties: map[string]string{"placementLink": placement.SelfLink},
	})
}

func (s *Services) handleRelease(ctx context.Context, task *types.TaskDocument) error {
	if _, err := s.Ledger.Release(task.ResourcePoolLink,
		task.ResourceDescriptionLink, task.ResourceCount); err != nil {
		return err
	}
	return s.Engine.Complete(ctx, task)
}
