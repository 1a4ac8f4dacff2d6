package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/purser-io/purser/pkg/events"
	"github.com/purser-io/purser/pkg/health"
	"github.com/purser-io/purser/pkg/log"
	"github.com/purser-io/purser/pkg/metrics"
	"github.com/purser-io/purser/pkg/storage"
	"github.com/purser-io/purser/pkg/taskengine"
	"github.com/purser-io/purser/pkg/tasks"
	"github.com/purser-io/purser/pkg/types"
)

// DefaultInterval is how often the control loop runs
const DefaultInterval = 30 * time.Second

// Reconciler is the redeploy control loop: it inspects the live fleet of
// every auto-redeploy description, groups instances by deployment context,
// and posts removal-plus-provision broker requests for the unhealthy ones.
type Reconciler struct {
	store    storage.Store
	engine   *taskengine.Engine
	broker   *events.Broker
	interval time.Duration

	mu     sync.Mutex
	stopCh chan struct{}
}

// New creates a reconciler over the given store and task engine
func New(store storage.Store, engine *taskengine.Engine, broker *events.Broker,
	interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reconciler{
		store:    store,
		engine:   engine,
		broker:   broker,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the control loop
func (r *Reconciler) Start() {
	go r.run()
	log.WithComponent("reconciler").Info().
		Dur("interval", r.interval).
		Msg("Redeploy control loop started")
}

// Stop stops the control loop
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.reconcile(); err != nil {
				log.WithComponent("reconciler").Error().Err(err).Msg("Reconciliation cycle failed")
			}
		case <-r.stopCh:
			return
		}
	}
}

// reconcile performs one control loop cycle
func (r *Reconciler) reconcile() error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ControlLoopDuration)
		metrics.ControlLoopCyclesTotal.Inc()
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	descriptions, err := r.store.ListContainerDescriptions()
	if err != nil {
		return err
	}

	logger := log.WithComponent("reconciler")
	for _, desc := range descriptions {
		if !desc.AutoRedeploy {
			continue
		}
		if err := r.reconcileDescription(desc); err != nil {
			logger.Error().Err(err).
				Str("description", desc.SelfLink).
				Msg("Failed to reconcile description")
		}
	}
	return nil
}

func (r *Reconciler) reconcileDescription(desc *types.ContainerDescription) error {
	instances, err := r.store.ListResourcesByDescription(desc.SelfLink)
	if err != nil {
		return err
	}

	observations := make(map[string][]*types.ResourceState)
	for _, instance := range instances {
		// Instances mid-provision belong to an in-flight request, not
		// to this cycle.
		if instance.PowerState == types.PowerStateProvisioning {
			continue
		}
		observations[instance.ContextID] = append(observations[instance.ContextID], instance)
	}
	if len(observations) == 0 {
		return nil
	}

	inspection, err := health.Inspect(desc, observations)
	if err != nil {
		return err
	}
	recommendation, err := health.Recommend(inspection)
	if err != nil {
		return err
	}
	if recommendation.Verdict != health.VerdictRedeploy {
		return nil
	}

	logger := log.WithComponent("reconciler")
	for contextID, candidates := range recommendation.RemovalCandidates {
		if len(candidates) == 0 {
			continue
		}
		logger.Warn().
			Str("description", desc.SelfLink).
			Str("context", contextID).
			Int("unhealthy", len(candidates)).
			Msg("Redeploying unhealthy instances")
		if err := r.redeploy(desc, contextID, candidates); err != nil {
			return err
		}
	}
	return nil
}

// redeploy posts one removal request for the unhealthy instances and one
// provision request for their replacements, tied together by context
func (r *Reconciler) redeploy(desc *types.ContainerDescription, contextID string,
	candidates []*types.ResourceState) error {

	links := make([]string, 0, len(candidates))
	for _, c := range candidates {
		links = append(links, c.SelfLink)
	}

	ctx := context.Background()
	removal := &types.TaskDocument{
		Kind:          tasks.KindBroker,
		Stage:         types.TaskStageCreated,
		Operation:     types.OperationRemove,
		ResourceType:  types.ResourceTypeContainer,
		ResourceLinks: links,
		ContextID:     contextID,
		TenantLink:    desc.TenantLink,
	}
	if err := r.engine.Create(ctx, removal); err != nil {
		return err
	}
	if err := r.engine.Start(ctx, removal); err != nil {
		return err
	}

	provision := &types.TaskDocument{
		Kind:                    tasks.KindBroker,
		Stage:                   types.TaskStageCreated,
		Operation:               types.OperationProvision,
		ResourceType:            types.ResourceTypeContainer,
		ResourceDescriptionLink: desc.SelfLink,
		ResourceCount:           int64(len(candidates)),
		ContextID:               contextID,
		TenantLink:              desc.TenantLink,
	}
	if err := r.engine.Create(ctx, provision); err != nil {
		return err
	}
	if err := r.engine.Start(ctx, provision); err != nil {
		return err
	}

	metrics.RedeploysTotal.Inc()
	if r.broker != nil {
		r.broker.Publish(events.New(events.EventRedeployRequested, "redeploy requested", map[string]string{
			"description": desc.SelfLink,
			"context":     contextID,
		}))
	}
	return nil
}
