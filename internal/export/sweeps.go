package export

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kelechi-nwosu/exam-registration-core/internal/model"
)

// StartSweeps launches the watchdog and retention sweeps. Both run on a
// shared ticker, independently of request handling, and exit when the
// context is cancelled. A failing sweep is logged and never aborts the loop
// or affects other jobs.
func (o *Orchestrator) StartSweeps(ctx context.Context) {
	if o.sweepEvery <= 0 {
		return
	}
	t := time.NewTicker(o.sweepEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				o.sweepTimeouts(ctx)
				o.sweepRetention(ctx)
			}
		}
	}()
}

// sweepTimeouts forces any job running past the maximum duration into the
// error state. Workers normally time themselves out; this catches workers
// that died without publishing a terminal snapshot. The store's terminal
// guard keeps the sweep from touching jobs that finished in the meantime.
func (o *Orchestrator) sweepTimeouts(ctx context.Context) {
	cutoff := time.Now().Add(-o.maxJobDuration)

	o.mu.Lock()
	var stale []string
	for id, started := range o.active {
		if started.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	o.mu.Unlock()

	for _, id := range stale {
		// The watchdog clock restarts when a worker picks the job up, so a
		// stale preparing job has been stuck in the queue, not running.
		msg := fmt.Sprintf("export exceeded maximum duration of %s", o.maxJobDuration)
		if job, err := o.store.Get(ctx, id); err == nil && job.Status == model.JobPreparing {
			msg = "export timed out waiting for an available worker"
		}
		o.fail(ctx, id, msg)
		o.mu.Lock()
		delete(o.active, id)
		o.mu.Unlock()
		o.log.Warn("watchdog timed out export job", zap.String("job_id", id))
	}
}

// sweepRetention evicts jobs older than the retention window from the store.
func (o *Orchestrator) sweepRetention(ctx context.Context) {
	removed, err := o.store.Cleanup(ctx, o.retention)
	if err != nil {
		o.log.Warn("job store cleanup failed", zap.Error(err))
		return
	}
	if removed > 0 {
		o.log.Info("evicted expired export jobs", zap.Int("removed", removed))
	}
}
