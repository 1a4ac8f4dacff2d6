package tasks

import (
	"context"
	"errors"

	"github.com/purser-io/purser/pkg/adapter"
	"github.com/purser-io/purser/pkg/ledger"
	"github.com/purser-io/purser/pkg/storage"
	"github.com/purser-io/purser/pkg/taskengine"
	"github.com/purser-io/purser/pkg/types"
)

// Task kinds, each addressable under /requests/<kind>/
const (
	KindBroker             = "broker"
	KindReservation        = "reservation"
	KindReservationRemoval = "reservation-removal"
	KindAllocation         = "allocation"
	KindProvisioning       = "provisioning"
	KindRemoval            = "removal"
	KindCounter            = "counter"
)

// Sub-stages used by the concrete task types, beyond the shared ones
const (
	SubStageReserving    types.SubStage = "RESERVING"
	SubStageAllocating   types.SubStage = "ALLOCATING"
	SubStageProvisioning types.SubStage = "PROVISIONING"
	SubStageRemoving     types.SubStage = "REMOVING"
	SubStageReleasing    types.SubStage = "RELEASING"
	SubStageCounting     types.SubStage = "COUNTING"
)

// Services bundles the collaborators the concrete task types need
type Services struct {
	Engine   *taskengine.Engine
	Store    storage.Store
	Ledger   *ledger.Ledger
	Adapters *adapter.Registry
}

// RegisterAll installs every concrete task type on the engine
func (s *Services) RegisterAll() error {
	for _, def := range []*taskengine.Definition{
		s.brokerDefinition(),
		s.reservationDefinition(),
		s.reservationRemovalDefinition(),
		s.allocationDefinition(),
		s.provisioningDefinition(),
		s.removalDefinition(),
		s.counterDefinition(),
	} {
		if err := s.Engine.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// startChild creates and starts a child task document
func (s *Services) startChild(ctx context.Context, child *types.TaskDocument) error {
	child.Stage = types.TaskStageCreated
	if err := s.Engine.Create(ctx, child); err != nil {
		return err
	}
	return s.Engine.Start(ctx, child)
}

// handleErrorSubStage is the shared handler for the ERROR sub-stage: a
// failed child reported in, so the owning task fails with the delivered
// failure detail.
func handleErrorSubStage(ctx context.Context, task *types.TaskDocument) error {
	if task.Failure != "" {
		return errors.New(task.Failure)
	}
	return errors.New("child task failed")
}
