package tasks

import (
	"context"
	"errors"

	"github.com/purser-io/purser/pkg/errdefs"
	"github.com/purser-io/purser/pkg/log"
	"github.com/purser-io/purser/pkg/taskengine"
	"github.com/purser-io/purser/pkg/types"
)

// counterDefinition is the fan-in primitive: created with N completions
// remaining, it absorbs one callback per reporting child into the COUNTING
// sub-stage and notifies its own caller exactly once when the count
// reaches zero. If any child delivered a failure, the counter fails with
// that failure once all children have reported.
func (s *Services) counterDefinition() *taskengine.Definition {
	return &taskengine.Definition{
		Kind: KindCounter,
		SubStages: []types.SubStage{
			types.SubStageCreated,
			SubStageCounting,
			types.SubStageCompleted,
			types.SubStageError,
		},
		Handlers: map[types.SubStage]taskengine.HandlerFunc{
			SubStageCounting: s.handleCount,
		},
		Validate: func(task *types.TaskDocument) error {
			if task.CompletionsRemaining <= 0 {
				return errdefs.NewValidation("completionsRemaining must be positive, got %d",
					task.CompletionsRemaining)
			}
			return nil
		},
	}
}

// newCounter creates and starts a counter task reporting into cb when
// completions children have called back
func (s *Services) newCounter(ctx context.Context, completions int64,
	cb types.TaskCallback) (*types.TaskDocument, error) {
	counter := &types.TaskDocument{
		Kind:                 KindCounter,
		CompletionsRemaining: completions,
		Callback:             cb,
	}
	if err := s.startChild(ctx, counter); err != nil {
		return nil, err
	}
	return counter, nil
}

// handleCount runs once per child callback. Concurrent callbacks race on
// the document version, so the decrement retries on conflict.
func (s *Services) handleCount(ctx context.Context, task *types.TaskDocument) error {
	for {
		current, err := s.Engine.Get(ctx, task.SelfLink)
		if err != nil {
			return err
		}
		if current.Stage.Terminal() {
			return nil
		}

		remaining := current.CompletionsRemaining - 1
		switch {
		case remaining > 0:
			err = s.Engine.Apply(ctx, current.SelfLink, &taskengine.Patch{
				DocumentVersion:      current.DocumentVersion + 1,
				CompletionsRemaining: &remaining,
			})
		case current.Failure != "":
			err = s.Engine.Fail(ctx, current, errors.New(current.Failure))
		default:
			err = s.Engine.Complete(ctx, current)
		}
		if errdefs.IsConflict(err) {
			log.WithTask(task.SelfLink).Debug().Msg("Counter decrement conflicted, retrying")
			continue
		}
		return err
	}
}
