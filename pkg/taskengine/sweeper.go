package taskengine

import (
	"context"
	"time"

	"github.com/purser-io/purser/pkg/log"
	"github.com/purser-io/purser/pkg/metrics"
	"github.com/purser-io/purser/pkg/types"
)

// DefaultSweepInterval is how often the expiration sweep runs
const DefaultSweepInterval = 1 * time.Minute

// StartSweeper begins the periodic expiration sweep. Tasks whose
// ExpirationTimeMicros has passed are stopped; a task document does not
// poll its own clock.
func (e *Engine) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.sweepExpired()
			case <-e.sweepStopCh:
				return
			}
		}
	}()
	log.WithComponent("taskengine").Info().
		Dur("interval", interval).
		Msg("Expiration sweeper started")
}

// StopSweeper stops the expiration sweep loop
func (e *Engine) StopSweeper() {
	close(e.sweepStopCh)
}

func (e *Engine) sweepExpired() {
	logger := log.WithComponent("taskengine")
	tasks, err := e.store.ListTasks()
	if err != nil {
		logger.Error().Err(err).Msg("Expiration sweep failed to list tasks")
		return
	}

	e.recordTaskCounts(tasks)

	now := time.Now().UnixMicro()
	for _, task := range tasks {
		if task.ExpirationTimeMicros == 0 || task.ExpirationTimeMicros > now {
			continue
		}
		logger.Info().
			Str("task", task.SelfLink).
			Str("stage", string(task.Stage)).
			Msg("Sweeping expired task")
		if err := e.Stop(context.Background(), task.SelfLink, task.ExpirationTimeMicros); err != nil {
			logger.Error().Err(err).Str("task", task.SelfLink).Msg("Failed to stop expired task")
			continue
		}
		metrics.TasksExpiredTotal.Inc()
	}
}

// recordTaskCounts refreshes the per-kind, per-stage document gauge from
// the sweep's full listing.
func (e *Engine) recordTaskCounts(tasks []*types.TaskDocument) {
	type key struct {
		kind  string
		stage string
	}
	counts := make(map[key]float64, len(tasks))
	for _, task := range tasks {
		counts[key{kind: task.Kind, stage: string(task.Stage)}]++
	}
	metrics.TasksTotal.Reset()
	for k, n := range counts {
		metrics.TasksTotal.WithLabelValues(k.kind, k.stage).Set(n)
	}
}
