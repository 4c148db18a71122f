// Package export implements the asynchronous export job pipeline: an
// orchestrator that accepts jobs and detaches workers, artifact writers for
// the supported output formats, and the background sweeps that time out and
// evict jobs. The job store is the only channel between a worker and its
// pollers.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/kelechi-nwosu/exam-registration-core/internal/jobstore"
	"github.com/kelechi-nwosu/exam-registration-core/internal/model"
	"github.com/kelechi-nwosu/exam-registration-core/internal/repository"
)

// Orchestrator creates export jobs, runs them as detached tasks against the
// job store, and exposes polling reads. Each job is owned by exactly one
// worker goroutine; pollers only ever read snapshots.
type Orchestrator struct {
	store     jobstore.Store
	source    repository.RegistrationSource
	artifacts ArtifactStore
	log       *zap.Logger

	sem            *semaphore.Weighted
	batchSize      int
	publishRate    rate.Limit
	maxJobDuration time.Duration
	retention      time.Duration
	sweepEvery     time.Duration

	mu     sync.Mutex
	active map[string]time.Time

	wg sync.WaitGroup
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithWorkers bounds the number of concurrently running export workers.
func WithWorkers(n int64) Option {
	return func(o *Orchestrator) { o.sem = semaphore.NewWeighted(n) }
}

// WithBatchSize sets how many registrations a worker reads per page.
func WithBatchSize(n int) Option {
	return func(o *Orchestrator) { o.batchSize = n }
}

// WithPublishRate throttles how often a worker republishes progress
// snapshots. Terminal snapshots are always published.
func WithPublishRate(r rate.Limit) Option {
	return func(o *Orchestrator) { o.publishRate = r }
}

// WithMaxJobDuration forces any job running longer than d into the error
// state with a timeout message.
func WithMaxJobDuration(d time.Duration) Option {
	return func(o *Orchestrator) { o.maxJobDuration = d }
}

// WithRetention sets how long terminal jobs stay visible to pollers before
// the retention sweep evicts them.
func WithRetention(d time.Duration) Option {
	return func(o *Orchestrator) { o.retention = d }
}

// WithSweepInterval sets how often the watchdog and retention sweeps run.
func WithSweepInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.sweepEvery = d }
}

// NewOrchestrator constructs an Orchestrator with its dependencies.
func NewOrchestrator(store jobstore.Store, source repository.RegistrationSource, artifacts ArtifactStore, log *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:          store,
		source:         source,
		artifacts:      artifacts,
		log:            log,
		sem:            semaphore.NewWeighted(4),
		batchSize:      50,
		publishRate:    rate.Every(200 * time.Millisecond),
		maxJobDuration: 30 * time.Minute,
		retention:      24 * time.Hour,
		sweepEvery:     5 * time.Minute,
		active:         make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CreateJob inserts a preparing job record and schedules the work
// independently of the caller's request lifetime. It returns the job id
// immediately; all further observation happens via GetStatus.
func (o *Orchestrator) CreateJob(ctx context.Context, requesterID string, filter model.ExportFilter) (string, error) {
	job := model.ExportJob{
		ID:          uuid.New().String(),
		RequesterID: requesterID,
		Status:      model.JobPreparing,
		CreatedAt:   time.Now().UTC(),
	}
	if err := o.store.Set(ctx, job); err != nil {
		return "", fmt.Errorf("create export job: %w", err)
	}

	o.mu.Lock()
	o.active[job.ID] = job.CreatedAt
	o.mu.Unlock()

	// Detach from the request: the worker outlives the caller and must not
	// be cancelled when the HTTP request completes.
	detached := context.WithoutCancel(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.active, job.ID)
			o.mu.Unlock()
		}()

		if err := o.sem.Acquire(detached, 1); err != nil {
			o.fail(detached, job.ID, "worker pool unavailable: "+err.Error())
			return
		}
		defer o.sem.Release(1)

		// Restart the watchdog clock now that the job is actually running;
		// time spent queued for a worker does not count against it.
		o.mu.Lock()
		o.active[job.ID] = time.Now()
		o.mu.Unlock()

		runCtx, cancel := context.WithTimeout(detached, o.maxJobDuration)
		defer cancel()
		o.run(runCtx, job.ID, filter)
	}()

	o.log.Info("export job accepted",
		zap.String("job_id", job.ID),
		zap.String("requester_id", requesterID),
	)
	return job.ID, nil
}

// GetStatus returns a snapshot of the job or jobstore.ErrNotFound.
func (o *Orchestrator) GetStatus(ctx context.Context, jobID string) (model.ExportJob, error) {
	return o.store.Get(ctx, jobID)
}

// Wait blocks until all in-flight workers have finished. Used at shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// run is the worker task that owns the job record. It is the only writer of
// the record and publishes whole-record snapshots with monotonic progress.
func (o *Orchestrator) run(ctx context.Context, jobID string, filter model.ExportFilter) {
	total, err := o.source.CountByFilter(ctx, filter)
	if err != nil {
		o.fail(ctx, jobID, "count registrations: "+err.Error())
		return
	}
	if total == 0 {
		o.fail(ctx, jobID, "no registrations matched the export filter")
		return
	}

	processing := model.JobProcessing
	if err := o.publish(ctx, jobID, jobstore.Patch{Status: &processing, TotalItems: &total}); err != nil {
		return
	}

	writer, err := newArtifactWriter(filter.Format)
	if err != nil {
		o.fail(ctx, jobID, err.Error())
		return
	}

	limiter := rate.NewLimiter(o.publishRate, 1)
	processed := 0
	offset := 0
	for processed < total {
		if err := ctx.Err(); err != nil {
			o.fail(ctx, jobID, timeoutMessage(err, o.maxJobDuration))
			return
		}

		batch, err := o.source.ListByFilter(ctx, filter, o.batchSize, offset)
		if err != nil {
			if ctx.Err() != nil {
				o.fail(ctx, jobID, timeoutMessage(ctx.Err(), o.maxJobDuration))
			} else {
				o.fail(ctx, jobID, "read registrations: "+err.Error())
			}
			return
		}
		if len(batch) == 0 {
			break
		}
		for _, reg := range batch {
			if err := writer.Append(reg); err != nil {
				o.fail(ctx, jobID, "write row: "+err.Error())
				return
			}
			processed++
		}
		offset += len(batch)

		if limiter.Allow() {
			progress := processed * 100 / total
			_ = o.publish(ctx, jobID, jobstore.Patch{Progress: &progress, ProcessedItems: &processed})
		}
	}

	content, contentType, ext, err := writer.Finish()
	if err != nil {
		o.fail(ctx, jobID, err.Error())
		return
	}

	name := fmt.Sprintf("registrations-%s-%s.%s",
		time.Now().UTC().Format("2006-01-02"), jobID, ext)
	url, err := o.artifacts.Put(ctx, name, contentType, bytes.NewReader(content))
	if err != nil {
		o.fail(ctx, jobID, err.Error())
		return
	}

	completed := model.JobCompleted
	hundred := 100
	if err := o.publish(ctx, jobID, jobstore.Patch{
		Status:         &completed,
		Progress:       &hundred,
		ProcessedItems: &processed,
		DownloadURL:    &url,
	}); err != nil {
		return
	}
	o.log.Info("export job completed",
		zap.String("job_id", jobID),
		zap.Int("items", processed),
		zap.String("url", url),
	)
}

// publish republishes the job record with the patch applied. The store makes
// the terminal check atomic with the write, so a worker and the watchdog
// racing to finalize the same job cannot overwrite each other's terminal
// state; the loser sees jobstore.ErrTerminal. Store writes use a detached
// context so a worker past its deadline can still record its own failure.
func (o *Orchestrator) publish(ctx context.Context, jobID string, patch jobstore.Patch) error {
	return o.store.Update(context.WithoutCancel(ctx), jobID, patch)
}

func (o *Orchestrator) fail(ctx context.Context, jobID, msg string) {
	errStatus := model.JobError
	if err := o.publish(ctx, jobID, jobstore.Patch{Status: &errStatus, ErrorMessage: &msg}); err != nil {
		// Another writer finalized first; its terminal state stands.
		if errors.Is(err, jobstore.ErrTerminal) {
			return
		}
		o.log.Warn("could not record export failure",
			zap.String("job_id", jobID), zap.Error(err))
		return
	}
	o.log.Warn("export job failed",
		zap.String("job_id", jobID), zap.String("error", msg))
}

func timeoutMessage(err error, max time.Duration) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("export exceeded maximum duration of %s", max)
	}
	return "export cancelled: " + err.Error()
}
