package taskengine

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/purser-io/purser/pkg/callback"
	"github.com/purser-io/purser/pkg/errdefs"
	"github.com/purser-io/purser/pkg/events"
	"github.com/purser-io/purser/pkg/log"
	"github.com/purser-io/purser/pkg/metrics"
	"github.com/purser-io/purser/pkg/storage"
	"github.com/purser-io/purser/pkg/types"
)

// RequestsPrefix is the factory path under which task documents live
const RequestsPrefix = "/requests/"

// DefaultExpiration bounds how long a task document may linger before the
// expiration sweep removes it
const DefaultExpiration = 30 * time.Minute

// HandlerFunc runs the domain logic for one sub-stage. A returned error
// moves the task to FAILED with the error preserved as the failure detail.
type HandlerFunc func(ctx context.Context, task *types.TaskDocument) error

// Definition registers one concrete task type with the engine. SubStages
// declares the forward transition order inside STARTED; Handlers maps each
// sub-stage to its domain logic. The dispatch table is built once here, at
// registration, never per call.
type Definition struct {
	Kind       string
	SubStages  []types.SubStage
	Handlers   map[types.SubStage]HandlerFunc
	Validate   func(task *types.TaskDocument) error
	Expiration time.Duration
}

// Patch is the mutation body applied to a task document. DocumentVersion
// must be strictly newer than the stored version or the patch is rejected
// with ConflictError.
type Patch struct {
	Stage                types.TaskStage
	SubStage             types.SubStage
	DocumentVersion      int64
	ResourceLinks        []string
	Failure              string
	CustomProperties     map[string]string
	CompletionsRemaining *int64
}

func (p *Patch) empty() bool {
	return p.Stage == "" && p.SubStage == "" &&
		len(p.ResourceLinks) == 0 && p.Failure == "" &&
		len(p.CustomProperties) == 0 && p.CompletionsRemaining == nil
}

// Engine drives every task document through its stage/sub-stage lifecycle.
// Handlers run asynchronously; the engine re-enters through Patch, never
// blocking a goroutine while a task waits on adapters or children.
type Engine struct {
	store    storage.Store
	notifier *callback.Notifier
	broker   *events.Broker

	mu   sync.RWMutex
	defs map[string]*Definition

	sweepStopCh chan struct{}
	wg          sync.WaitGroup
}

// New creates a task engine over the given store. The engine wires its own
// Patch as the local callback sender so child tasks can report into parents
// without an HTTP hop.
func New(store storage.Store, broker *events.Broker) *Engine {
	e := &Engine{
		store:       store,
		broker:      broker,
		defs:        make(map[string]*Definition),
		sweepStopCh: make(chan struct{}),
	}
	e.notifier = callback.NewNotifier(e.sendLocal)
	return e
}

// Notifier exposes the engine's callback notifier for collaborators that
// deliver into task documents directly
func (e *Engine) Notifier() *callback.Notifier {
	return e.notifier
}

// Register installs a task type definition. Registering twice for the same
// kind is a programming error.
func (e *Engine) Register(def *Definition) error {
	if def == nil || def.Kind == "" {
		return errdefs.NewValidation("task definition requires a kind")
	}
	if len(def.SubStages) == 0 {
		return errdefs.NewValidation("task definition %s declares no sub-stages", def.Kind)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.defs[def.Kind]; ok {
		return errdefs.NewValidation("task kind %s already registered", def.Kind)
	}
	e.defs[def.Kind] = def
	log.WithComponent("taskengine").Debug().
		Str("kind", def.Kind).
		Int("subStages", len(def.SubStages)).
		Msg("Registered task type")
	return nil
}

func (e *Engine) definition(kind string) (*Definition, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	def, ok := e.defs[kind]
	if !ok {
		return nil, errdefs.NewValidation("unknown task kind: %s", kind)
	}
	return def, nil
}

// subStageOrdinal returns the position of s in the declared order, or -1
func (d *Definition) subStageOrdinal(s types.SubStage) int {
	for i, cand := range d.SubStages {
		if cand == s {
			return i
		}
	}
	return -1
}

// Create validates and persists a new task document. The stage is stored
// exactly as posted; Create never sets it.
func (e *Engine) Create(ctx context.Context, task *types.TaskDocument) error {
	if task == nil {
		return errdefs.NewValidation("task body is required")
	}
	if task.Kind == "" {
		return errdefs.NewValidation("task kind is required")
	}
	def, err := e.definition(task.Kind)
	if err != nil {
		return err
	}
	if def.Validate != nil {
		if err := def.Validate(task); err != nil {
			return err
		}
	}

	if task.SelfLink == "" {
		task.SelfLink = RequestsPrefix + def.Kind + "/" + uuid.New().String()
	}
	if task.ExpirationTimeMicros == 0 {
		exp := def.Expiration
		if exp == 0 {
			exp = DefaultExpiration
		}
		task.ExpirationTimeMicros = time.Now().Add(exp).UnixMicro()
	}
	task.DocumentVersion = 0
	task.CreatedAt = time.Now()
	task.UpdatedAt = task.CreatedAt

	if err := e.store.CreateTask(task); err != nil {
		return err
	}
	e.publish(events.EventTaskCreated, task, "task created")
	metrics.TaskTransitionsTotal.WithLabelValues(task.Kind, string(types.TaskStageCreated)).Inc()
	return nil
}

// Start moves a posted task into STARTED at its first declared sub-stage
// and schedules the first handler. The posted body must carry a stage;
// a body whose task is already past CREATED is rejected as re-entrant.
func (e *Engine) Start(ctx context.Context, task *types.TaskDocument) error {
	if task == nil {
		return errdefs.NewValidation("task body is required")
	}
	if task.Stage == "" {
		return errdefs.NewValidation("task stage is required")
	}
	def, err := e.definition(task.Kind)
	if err != nil {
		return err
	}
	if task.Stage != types.TaskStageCreated && task.Stage != types.TaskStageStarted {
		return errdefs.NewValidation("task %s cannot start from stage %s", task.SelfLink, task.Stage)
	}

	stored, err := e.store.GetTask(task.SelfLink)
	if err != nil {
		if !errdefs.IsNotFound(err) {
			return err
		}
		// Starting an unstored body persists it first.
		if cerr := e.Create(ctx, task); cerr != nil {
			return cerr
		}
		stored = task
	}
	if stored.Stage != types.TaskStageCreated && !(stored.Stage == types.TaskStageStarted && stored.SubStage == "") {
		return errdefs.NewValidation("task %s already started", stored.SelfLink)
	}

	stored.Stage = types.TaskStageStarted
	stored.SubStage = def.SubStages[0]
	stored.UpdatedAt = time.Now()
	if err := e.store.UpdateTask(stored, stored.DocumentVersion); err != nil {
		return err
	}

	log.WithTask(stored.SelfLink).Info().
		Str("kind", stored.Kind).
		Str("subStage", string(stored.SubStage)).
		Msg("Task started")
	e.publish(events.EventTaskStarted, stored, "task started")
	metrics.TaskTransitionsTotal.WithLabelValues(stored.Kind, string(types.TaskStageStarted)).Inc()

	e.dispatch(stored, def)
	return nil
}

// Apply validates and applies a patch to the task at selfLink. Stages and
// sub-stages move only forward; a terminal task accepts no further domain
// patches. Reaching FINISHED or FAILED notifies the task's callback exactly
// once; a delivery failure is logged and never reverts the terminal stage.
func (e *Engine) Apply(ctx context.Context, selfLink string, patch *Patch) error {
	if patch == nil || patch.empty() {
		return errdefs.NewValidation("patch body is required")
	}

	task, err := e.store.GetTask(selfLink)
	if err != nil {
		return err
	}
	def, err := e.definition(task.Kind)
	if err != nil {
		return err
	}

	if patch.DocumentVersion <= task.DocumentVersion {
		return &errdefs.ConflictError{
			Link:            selfLink,
			CurrentVersion:  task.DocumentVersion,
			ProposedVersion: patch.DocumentVersion,
		}
	}
	if task.Stage.Terminal() {
		return errdefs.NewValidation("task %s is terminal in stage %s", selfLink, task.Stage)
	}

	newStage := task.Stage
	if patch.Stage != "" {
		if patch.Stage.Ordinal() < 0 {
			return errdefs.NewValidation("unknown stage: %s", patch.Stage)
		}
		if patch.Stage.Ordinal() < task.Stage.Ordinal() {
			return errdefs.NewValidation("task %s cannot move backward from %s to %s",
				selfLink, task.Stage, patch.Stage)
		}
		newStage = patch.Stage
	}

	if patch.SubStage != "" && patch.SubStage != task.SubStage {
		ord := def.subStageOrdinal(patch.SubStage)
		if ord < 0 {
			return errdefs.NewValidation("unknown sub-stage %s for task kind %s",
				patch.SubStage, task.Kind)
		}
		if cur := def.subStageOrdinal(task.SubStage); cur >= 0 && ord < cur {
			return errdefs.NewValidation("task %s cannot move backward from sub-stage %s to %s",
				selfLink, task.SubStage, patch.SubStage)
		}
		task.SubStage = patch.SubStage
	}
	task.Stage = newStage
	if len(patch.ResourceLinks) > 0 {
		// Callbacks echo the sender's full link list, so a child reporting
		// back re-delivers links the parent already holds. Merge as a set.
		seen := make(map[string]struct{}, len(task.ResourceLinks))
		for _, link := range task.ResourceLinks {
			seen[link] = struct{}{}
		}
		for _, link := range patch.ResourceLinks {
			if _, ok := seen[link]; ok {
				continue
			}
			seen[link] = struct{}{}
			task.ResourceLinks = append(task.ResourceLinks, link)
		}
	}
	if patch.Failure != "" {
		task.Failure = patch.Failure
	}
	if len(patch.CustomProperties) > 0 {
		if task.CustomProperties == nil {
			task.CustomProperties = make(map[string]string)
		}
		for k, v := range patch.CustomProperties {
			task.CustomProperties[k] = v
		}
	}
	if patch.CompletionsRemaining != nil {
		task.CompletionsRemaining = *patch.CompletionsRemaining
	}
	task.UpdatedAt = time.Now()

	if err := e.store.UpdateTask(task, patch.DocumentVersion-1); err != nil {
		return err
	}
	metrics.TaskTransitionsTotal.WithLabelValues(task.Kind, string(task.Stage)).Inc()

	switch {
	case task.Stage == types.TaskStageFinished || task.Stage == types.TaskStageFailed:
		e.notify(task)
		e.publishTerminal(task)
	case task.Stage == types.TaskStageCancelled:
		e.publish(events.EventTaskCancelled, task, "task cancelled")
	case task.Stage == types.TaskStageStarted && patch.SubStage != "":
		// An explicit sub-stage in the patch dispatches even without a
		// transition: fan-in tasks receive repeated deliveries into the
		// same sub-stage, one per reporting child.
		e.dispatch(task, def)
	}
	return nil
}

// Stop removes a task document. Stopping an absent document is not an
// error. A task still in CREATED or STARTED is failed toward its callback
// before removal so the creator is not left waiting forever.
func (e *Engine) Stop(ctx context.Context, selfLink string, expirationTimeMicros int64) error {
	task, err := e.store.GetTask(selfLink)
	if err != nil {
		if errdefs.IsNotFound(err) {
			log.WithTask(selfLink).Debug().Msg("Stop on absent task document")
			return nil
		}
		return err
	}

	logger := log.WithTask(selfLink)
	if expirationTimeMicros != 0 {
		task.ExpirationTimeMicros = expirationTimeMicros
		logger.Info().
			Int64("expirationTimeMicros", expirationTimeMicros).
			Msg("Stopping task with expiration")
	}

	if !task.Stage.Terminal() {
		logger.Warn().
			Str("stage", string(task.Stage)).
			Msg("Stopping task before completion, notifying callback as failed")
		task.Stage = types.TaskStageFailed
		if task.Failure == "" {
			task.Failure = "task stopped before completion"
		}
		e.notify(task)
	}

	if err := e.store.DeleteTask(selfLink); err != nil {
		return err
	}
	e.publishRemoved(task)
	return nil
}

// publishRemoved records the removed document's expiration deadline in the
// event stream so a stop carrying an explicit deadline stays diagnosable
// after the document is gone.
func (e *Engine) publishRemoved(task *types.TaskDocument) {
	if e.broker == nil {
		return
	}
	e.broker.Publish(events.New(events.EventTaskExpired, "task removed", map[string]string{
		"taskLink":             task.SelfLink,
		"kind":                 task.Kind,
		"stage":                string(task.Stage),
		"expirationTimeMicros": strconv.FormatInt(task.ExpirationTimeMicros, 10),
	}))
}

// ProceedTo advances a started task to the given sub-stage, carrying extra
// fields from fill. Concrete task handlers use this to drive their own
// state machine forward.
func (e *Engine) ProceedTo(ctx context.Context, task *types.TaskDocument,
	subStage types.SubStage, fill func(p *Patch)) error {
	p := &Patch{
		Stage:           types.TaskStageStarted,
		SubStage:        subStage,
		DocumentVersion: task.DocumentVersion + 1,
	}
	if fill != nil {
		fill(p)
	}
	return e.Apply(ctx, task.SelfLink, p)
}

// Complete moves a task to FINISHED
func (e *Engine) Complete(ctx context.Context, task *types.TaskDocument) error {
	return e.Apply(ctx, task.SelfLink, &Patch{
		Stage:           types.TaskStageFinished,
		SubStage:        types.SubStageCompleted,
		DocumentVersion: task.DocumentVersion + 1,
	})
}

// Fail moves a task to FAILED preserving the failure detail
func (e *Engine) Fail(ctx context.Context, task *types.TaskDocument, cause error) error {
	log.WithTask(task.SelfLink).Error().
		Err(cause).
		Str("kind", task.Kind).
		Msg("Task failed")
	return e.Apply(ctx, task.SelfLink, &Patch{
		Stage:           types.TaskStageFailed,
		SubStage:        types.SubStageError,
		DocumentVersion: task.DocumentVersion + 1,
		Failure:         cause.Error(),
	})
}

// Cancel moves a non-terminal task to CANCELLED
func (e *Engine) Cancel(ctx context.Context, selfLink string) error {
	task, err := e.store.GetTask(selfLink)
	if err != nil {
		return err
	}
	return e.Apply(ctx, selfLink, &Patch{
		Stage:           types.TaskStageCancelled,
		DocumentVersion: task.DocumentVersion + 1,
	})
}

// Get returns the task at selfLink
func (e *Engine) Get(ctx context.Context, selfLink string) (*types.TaskDocument, error) {
	return e.store.GetTask(selfLink)
}

// Wait blocks until all in-flight handlers return. Intended for shutdown
// and tests.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// dispatch runs the handler registered for the task's current sub-stage in
// its own goroutine. A handler error fails the task; a sub-stage with no
// handler is a fixed point waiting on an external patch.
func (e *Engine) dispatch(task *types.TaskDocument, def *Definition) {
	h, ok := def.Handlers[task.SubStage]
	if !ok {
		return
	}
	snapshot := *task
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.WithTask(snapshot.SelfLink).Error().
					Str("subStage", string(snapshot.SubStage)).
					Msgf("Task handler panicked: %v", r)
				_ = e.Fail(context.Background(), &snapshot, fmt.Errorf("handler panic: %v", r))
			}
		}()
		if err := h(context.Background(), &snapshot); err != nil {
			_ = e.Fail(context.Background(), &snapshot, err)
		}
	}()
}

// notify delivers the terminal-transition callback. At most once per task:
// Apply rejects further domain patches on a terminal document, so no second
// terminal transition can happen.
func (e *Engine) notify(task *types.TaskDocument) {
	if err := e.notifier.Notify(task); err != nil {
		metrics.CallbackFailuresTotal.Inc()
		log.WithTask(task.SelfLink).Error().
			Err(err).
			Str("target", task.Callback.ServiceSelfLink).
			Msg("Callback delivery failed")
	}
}

// sendLocal is the notifier's local delivery path: the callback patch is
// applied straight to the waiting task document. Sibling children finishing
// together race on the target's version; the transport re-reads and retries
// the conflict so each notification lands once.
func (e *Engine) sendLocal(targetLink string, patch *types.TaskDocument) error {
	for {
		target, err := e.store.GetTask(targetLink)
		if err != nil {
			return err
		}
		err = e.Apply(context.Background(), targetLink, &Patch{
			Stage:           patch.Stage,
			SubStage:        patch.SubStage,
			DocumentVersion: target.DocumentVersion + 1,
			ResourceLinks:   patch.ResourceLinks,
			Failure:         patch.Failure,
		})
		if errdefs.IsConflict(err) {
			continue
		}
		return err
	}
}

func (e *Engine) publishTerminal(task *types.TaskDocument) {
	if task.Stage == types.TaskStageFinished {
		e.publish(events.EventTaskFinished, task, "task finished")
		return
	}
	e.publish(events.EventTaskFailed, task, task.Failure)
}

func (e *Engine) publish(eventType events.EventType, task *types.TaskDocument, message string) {
	if e.broker == nil {
		return
	}
	e.broker.Publish(events.New(eventType, message, map[string]string{
		"taskLink": task.SelfLink,
		"kind":     task.Kind,
		"stage":    string(task.Stage),
	}))
}
