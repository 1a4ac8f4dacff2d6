package tasks

import (
	"context"

	"github.com/purser-io/purser/pkg/callback"
	"github.com/purser-io/purser/pkg/errdefs"
	"github.com/purser-io/purser/pkg/log"
	"github.com/purser-io/purser/pkg/taskengine"
	"github.com/purser-io/purser/pkg/types"
)

// brokerDefinition is the top-level request broker: given an operation,
// resource type and description it fans out into the child task chain
// reservation -> allocation -> provisioning, or removal -> release, and
// reports to the original caller when the chain settles.
func (s *Services) brokerDefinition() *taskengine.Definition {
	return &taskengine.Definition{
		Kind: KindBroker,
		SubStages: []types.SubStage{
			types.SubStageCreated,
			SubStageReserving,
			SubStageAllocating,
			SubStageProvisioning,
			SubStageRemoving,
			SubStageReleasing,
			types.SubStageCompleted,
			types.SubStageError,
		},
		Handlers: map[types.SubStage]taskengine.HandlerFunc{
			types.SubStageCreated:   s.handleBrokerCreated,
			SubStageReserving:       s.handleBrokerReserving,
			SubStageAllocating:      s.handleBrokerAllocating,
			SubStageProvisioning:    s.handleBrokerProvisioning,
			SubStageRemoving:        s.handleBrokerRemoving,
			SubStageReleasing:       s.handleBrokerReleasing,
			types.SubStageCompleted: s.handleBrokerCompleted,
			types.SubStageError:     handleErrorSubStage,
		},
		Validate: validateBroker,
	}
}

func validateBroker(task *types.TaskDocument) error {
	if task.ResourceType == "" {
		return errdefs.NewValidation("resourceType is required")
	}
	switch task.Operation {
	case types.OperationProvision:
		if task.ResourceDescriptionLink == "" {
			return errdefs.NewValidation("resourceDescriptionLink is required")
		}
		if task.ResourceCount <= 0 {
			return errdefs.NewValidation("resourceCount must be positive, got %d", task.ResourceCount)
		}
	case types.OperationRemove:
		if len(task.ResourceLinks) == 0 {
			return errdefs.NewValidation("resourceLinks are required for removal")
		}
		if task.ResourcePoolLink != "" && task.ResourceDescriptionLink == "" {
			return errdefs.NewValidation("resourceDescriptionLink is required to release a reservation")
		}
	default:
		return errdefs.NewValidation("unknown operation: %s", task.Operation)
	}
	return nil
}

func (s *Services) handleBrokerCreated(ctx context.Context, task *types.TaskDocument) error {
	switch task.Operation {
	case types.OperationProvision:
		if task.ResourcePoolLink == "" {
			// No pool to reserve against, skip straight to allocation.
			return s.Engine.ProceedTo(ctx, task, SubStageAllocating, nil)
		}
		return s.Engine.ProceedTo(ctx, task, SubStageReserving, nil)
	case types.OperationRemove:
		return s.Engine.ProceedTo(ctx, task, SubStageRemoving, nil)
	}
	return errdefs.NewValidation("unknown operation: %s", task.Operation)
}

func (s *Services) handleBrokerReserving(ctx context.Context, task *types.TaskDocument) error {
	child := &types.TaskDocument{
		Kind:                    KindReservation,
		TenantLink:              task.TenantLink,
		ResourceType:            task.ResourceType,
		ResourceDescriptionLink: task.ResourceDescriptionLink,
		ResourceCount:           task.ResourceCount,
		ResourcePoolLink:        task.ResourcePoolLink,
		ContextID:               task.ContextID,
		Callback: callback.Create(task.SelfLink,
			SubStageAllocating, types.SubStageError, types.CallbackDirectionCreate),
	}
	return s.startChild(ctx, child)
}

func (s *Services) handleBrokerAllocating(ctx context.Context, task *types.TaskDocument) error {
	child := &types.TaskDocument{
		Kind:                    KindAllocation,
		TenantLink:              task.TenantLink,
		ResourceType:            task.ResourceType,
		ResourceDescriptionLink: task.ResourceDescriptionLink,
		ResourceCount:           task.ResourceCount,
		ContextID:               task.ContextID,
		CustomProperties:        task.CustomProperties,
		Callback: callback.Create(task.SelfLink,
			SubStageProvisioning, types.SubStageError, types.CallbackDirectionCreate),
	}
	return s.startChild(ctx, child)
}

// handleBrokerProvisioning fans one provisioning child out per allocated
// instance, with a counter in between so the broker advances only once
// every instance has reported.
func (s *Services) handleBrokerProvisioning(ctx context.Context, task *types.TaskDocument) error {
	if len(task.ResourceLinks) == 0 {
		return s.Engine.ProceedTo(ctx, task, types.SubStageCompleted, nil)
	}

	counter, err := s.newCounter(ctx, int64(len(task.ResourceLinks)),
		callback.Create(task.SelfLink,
			types.SubStageCompleted, types.SubStageError, types.CallbackDirectionCreate))
	if err != nil {
		return err
	}

	for _, link := range task.ResourceLinks {
		child := &types.TaskDocument{
			Kind:             KindProvisioning,
			TenantLink:       task.TenantLink,
			ResourceType:     task.ResourceType,
			ResourceLinks:    []string{link},
			ContextID:        task.ContextID,
			CustomProperties: task.CustomProperties,
			Callback: callback.Create(counter.SelfLink,
				SubStageCounting, SubStageCounting, types.CallbackDirectionCreate),
		}
		if err := s.startChild(ctx, child); err != nil {
			return err
		}
	}
	return nil
}

func (s *Services) handleBrokerRemoving(ctx context.Context, task *types.TaskDocument) error {
	onComplete := SubStageReleasing
	if task.ResourcePoolLink == "" {
		onComplete = types.SubStageCompleted
	}
	child := &types.TaskDocument{
		Kind:          KindRemoval,
		TenantLink:    task.TenantLink,
		ResourceType:  task.ResourceType,
		ResourceLinks: task.ResourceLinks,
		ContextID:     task.ContextID,
		Callback: callback.Create(task.SelfLink,
			onComplete, types.SubStageError, types.CallbackDirectionDelete),
	}
	return s.startChild(ctx, child)
}

func (s *Services) handleBrokerReleasing(ctx context.Context, task *types.TaskDocument) error {
	count := task.ResourceCount
	if count == 0 {
		count = int64(len(task.ResourceLinks))
	}
	child := &types.TaskDocument{
		Kind:                    KindReservationRemoval,
		TenantLink:              task.TenantLink,
		ResourceType:            task.ResourceType,
		ResourceDescriptionLink: task.ResourceDescriptionLink,
		ResourceCount:           count,
		ResourcePoolLink:        task.ResourcePoolLink,
		ContextID:               task.ContextID,
		Callback: callback.Create(task.SelfLink,
			types.SubStageCompleted, types.SubStageError, types.CallbackDirectionDelete),
	}
	return s.startChild(ctx, child)
}

func (s *Services) handleBrokerCompleted(ctx context.Context, task *types.TaskDocument) error {
	log.WithTask(task.SelfLink).Info().
		Str("operation", string(task.Operation)).
		Int("resources", len(task.ResourceLinks)).
		Msg("Request completed")
	return s.Engine.Complete(ctx, task)
}
