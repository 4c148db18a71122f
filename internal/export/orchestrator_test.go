package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kelechi-nwosu/exam-registration-core/internal/jobstore"
	"github.com/kelechi-nwosu/exam-registration-core/internal/model"
)

// fakeSource serves registrations from a slice with stable paging.
type fakeSource struct {
	regs      []model.Registration
	listDelay time.Duration
	countErr  error
}

func (f *fakeSource) CountByFilter(_ context.Context, _ model.ExportFilter) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return len(f.regs), nil
}

func (f *fakeSource) ListByFilter(ctx context.Context, _ model.ExportFilter, limit, offset int) ([]model.Registration, error) {
	if f.listDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.listDelay):
		}
	}
	if offset >= len(f.regs) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.regs) {
		end = len(f.regs)
	}
	return f.regs[offset:end], nil
}

type fakeArtifacts struct {
	err  error
	name string
}

func (f *fakeArtifacts) Put(_ context.Context, name, _ string, r io.Reader) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if _, err := io.ReadAll(r); err != nil {
		return "", err
	}
	f.name = name
	return "/downloads/" + name, nil
}

// recordingStore captures every published snapshot so tests can check
// ordering guarantees.
type recordingStore struct {
	jobstore.Store
	mu        sync.Mutex
	snapshots []model.ExportJob
}

func newRecordingStore() *recordingStore {
	return &recordingStore{Store: jobstore.NewMemory()}
}

func (r *recordingStore) record(ctx context.Context, jobID string) {
	job, err := r.Store.Get(ctx, jobID)
	if err != nil {
		return
	}
	r.mu.Lock()
	r.snapshots = append(r.snapshots, job)
	r.mu.Unlock()
}

func (r *recordingStore) Set(ctx context.Context, job model.ExportJob) error {
	if err := r.Store.Set(ctx, job); err != nil {
		return err
	}
	r.record(ctx, job.ID)
	return nil
}

func (r *recordingStore) Update(ctx context.Context, jobID string, patch jobstore.Patch) error {
	if err := r.Store.Update(ctx, jobID, patch); err != nil {
		return err
	}
	r.record(ctx, jobID)
	return nil
}

// racingStore injects a watchdog timeout write just before the worker's own
// completion patch lands, reproducing the two writers racing to finalize the
// same job.
type racingStore struct {
	jobstore.Store
	once sync.Once
}

func (r *racingStore) Update(ctx context.Context, jobID string, patch jobstore.Patch) error {
	if patch.Status != nil && *patch.Status == model.JobCompleted {
		r.once.Do(func() {
			failed := model.JobError
			msg := "export exceeded maximum duration of 1s"
			_ = r.Store.Update(ctx, jobID, jobstore.Patch{Status: &failed, ErrorMessage: &msg})
		})
	}
	return r.Store.Update(ctx, jobID, patch)
}

func makeRegs(n int) []model.Registration {
	regs := make([]model.Registration, n)
	for i := range regs {
		regs[i] = model.Registration{
			ID:            fmt.Sprintf("reg-%04d", i),
			CoordinatorID: "coord-1",
			ChapterID:     "chapter-1",
			CenterID:      "center-1",
			SchoolName:    "Sunrise Academy",
			FirstName:     "Ada",
			LastName:      fmt.Sprintf("Obi-%04d", i),
			PaymentStatus: "completed",
			CreatedAt:     time.Now().UTC(),
		}
	}
	return regs
}

func newTestOrchestrator(store jobstore.Store, source *fakeSource, artifacts ArtifactStore, opts ...Option) *Orchestrator {
	base := []Option{
		WithWorkers(2),
		WithBatchSize(50),
		WithPublishRate(rate.Inf),
	}
	return NewOrchestrator(store, source, artifacts, zap.NewNop(), append(base, opts...)...)
}

func TestExportJobCompletes(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	source := &fakeSource{regs: makeRegs(500)}
	arts := &fakeArtifacts{}
	o := newTestOrchestrator(store, source, arts)

	jobID, err := o.CreateJob(ctx, "coord-1", model.ExportFilter{Format: model.FormatCSV})
	require.NoError(t, err)
	require.NotEmpty(t, jobID)
	o.Wait()

	job, err := o.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, 500, job.TotalItems)
	assert.Equal(t, 500, job.ProcessedItems)
	assert.NotEmpty(t, job.DownloadURL)
	assert.Empty(t, job.ErrorMessage)
	assert.Contains(t, arts.name, ".csv")
}

func TestExportSnapshotsAreMonotonic(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	source := &fakeSource{regs: makeRegs(500)}
	o := newTestOrchestrator(store, source, &fakeArtifacts{}, WithBatchSize(20))

	jobID, err := o.CreateJob(ctx, "coord-1", model.ExportFilter{})
	require.NoError(t, err)
	o.Wait()

	store.mu.Lock()
	snapshots := append([]model.ExportJob(nil), store.snapshots...)
	store.mu.Unlock()
	require.NotEmpty(t, snapshots)

	assert.Equal(t, model.JobPreparing, snapshots[0].Status)
	terminalSeen := 0
	lastProcessed, lastProgress := 0, 0
	for _, snap := range snapshots {
		assert.Equal(t, jobID, snap.ID)
		assert.GreaterOrEqual(t, snap.ProcessedItems, lastProcessed)
		assert.GreaterOrEqual(t, snap.Progress, lastProgress)
		assert.LessOrEqual(t, snap.ProcessedItems, 500)
		if snap.Status.Terminal() {
			terminalSeen++
		}
		lastProcessed = snap.ProcessedItems
		lastProgress = snap.Progress
	}
	// The terminal state is reached at most once and never revisited.
	assert.Equal(t, 1, terminalSeen)
	assert.Equal(t, model.JobCompleted, snapshots[len(snapshots)-1].Status)
}

func TestExportArtifactFailureIsCaptured(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{regs: makeRegs(10)}
	arts := &fakeArtifacts{err: fmt.Errorf("%w: upload rejected", ErrArtifact)}
	o := newTestOrchestrator(jobstore.NewMemory(), source, arts)

	jobID, err := o.CreateJob(ctx, "coord-1", model.ExportFilter{})
	require.NoError(t, err)
	o.Wait()

	job, err := o.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobError, job.Status)
	assert.Contains(t, job.ErrorMessage, "upload rejected")
	assert.Empty(t, job.DownloadURL)
}

func TestExportEmptyFilterFails(t *testing.T) {
	ctx := context.Background()
	o := newTestOrchestrator(jobstore.NewMemory(), &fakeSource{}, &fakeArtifacts{})

	jobID, err := o.CreateJob(ctx, "coord-1", model.ExportFilter{})
	require.NoError(t, err)
	o.Wait()

	job, err := o.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobError, job.Status)
	assert.Contains(t, job.ErrorMessage, "no registrations matched")
}

func TestExportSourceErrorIsCaptured(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{countErr: errors.New("store unavailable")}
	o := newTestOrchestrator(jobstore.NewMemory(), source, &fakeArtifacts{})

	jobID, err := o.CreateJob(ctx, "coord-1", model.ExportFilter{})
	require.NoError(t, err)
	o.Wait()

	job, err := o.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobError, job.Status)
	assert.Contains(t, job.ErrorMessage, "store unavailable")
}

func TestExportTimesOut(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{regs: makeRegs(100), listDelay: 50 * time.Millisecond}
	o := newTestOrchestrator(jobstore.NewMemory(), source, &fakeArtifacts{},
		WithBatchSize(10),
		WithMaxJobDuration(20*time.Millisecond),
	)

	jobID, err := o.CreateJob(ctx, "coord-1", model.ExportFilter{})
	require.NoError(t, err)
	o.Wait()

	job, err := o.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobError, job.Status)
	assert.Contains(t, job.ErrorMessage, "maximum duration")
}

func TestExportUnsupportedFormatFails(t *testing.T) {
	ctx := context.Background()
	o := newTestOrchestrator(jobstore.NewMemory(), &fakeSource{regs: makeRegs(3)}, &fakeArtifacts{})

	jobID, err := o.CreateJob(ctx, "coord-1", model.ExportFilter{Format: "docx"})
	require.NoError(t, err)
	o.Wait()

	job, err := o.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobError, job.Status)
	assert.Contains(t, job.ErrorMessage, "unsupported export format")
}

func TestGetStatusUnknownJob(t *testing.T) {
	o := newTestOrchestrator(jobstore.NewMemory(), &fakeSource{}, &fakeArtifacts{})
	_, err := o.GetStatus(context.Background(), "nope")
	assert.ErrorIs(t, err, jobstore.ErrNotFound)
}

func TestWorkerCannotOverwriteTimeoutState(t *testing.T) {
	ctx := context.Background()
	store := &racingStore{Store: jobstore.NewMemory()}
	source := &fakeSource{regs: makeRegs(10)}
	o := newTestOrchestrator(store, source, &fakeArtifacts{})

	jobID, err := o.CreateJob(ctx, "coord-1", model.ExportFilter{})
	require.NoError(t, err)
	o.Wait()

	job, err := store.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobError, job.Status)
	assert.Contains(t, job.ErrorMessage, "maximum duration")
	assert.Empty(t, job.DownloadURL)
}

func TestWatchdogSweepTimesOutStaleJob(t *testing.T) {
	ctx := context.Background()
	store := jobstore.NewMemory()
	o := newTestOrchestrator(store, &fakeSource{}, &fakeArtifacts{},
		WithMaxJobDuration(time.Minute),
	)

	stuck := model.ExportJob{
		ID:        "stuck",
		Status:    model.JobProcessing,
		CreatedAt: time.Now().Add(-2 * time.Minute),
	}
	require.NoError(t, store.Set(ctx, stuck))
	o.mu.Lock()
	o.active["stuck"] = time.Now().Add(-2 * time.Minute)
	o.mu.Unlock()

	o.sweepTimeouts(ctx)

	job, err := store.Get(ctx, "stuck")
	require.NoError(t, err)
	assert.Equal(t, model.JobError, job.Status)
	assert.Contains(t, job.ErrorMessage, "maximum duration")

	o.mu.Lock()
	_, tracked := o.active["stuck"]
	o.mu.Unlock()
	assert.False(t, tracked)
}

func TestWatchdogSweepReportsQueueWait(t *testing.T) {
	ctx := context.Background()
	store := jobstore.NewMemory()
	o := newTestOrchestrator(store, &fakeSource{}, &fakeArtifacts{},
		WithMaxJobDuration(time.Minute),
	)

	// Never picked up by a worker, so still preparing when the sweep runs.
	queued := model.ExportJob{
		ID:        "queued",
		Status:    model.JobPreparing,
		CreatedAt: time.Now().Add(-2 * time.Minute),
	}
	require.NoError(t, store.Set(ctx, queued))
	o.mu.Lock()
	o.active["queued"] = time.Now().Add(-2 * time.Minute)
	o.mu.Unlock()

	o.sweepTimeouts(ctx)

	job, err := store.Get(ctx, "queued")
	require.NoError(t, err)
	assert.Equal(t, model.JobError, job.Status)
	assert.Contains(t, job.ErrorMessage, "waiting for an available worker")
}

func TestWatchdogSweepLeavesFinishedJobAlone(t *testing.T) {
	ctx := context.Background()
	store := jobstore.NewMemory()
	o := newTestOrchestrator(store, &fakeSource{}, &fakeArtifacts{},
		WithMaxJobDuration(time.Minute),
	)

	done := model.ExportJob{
		ID:          "done",
		Status:      model.JobCompleted,
		Progress:    100,
		DownloadURL: "/downloads/registrations.csv",
		CreatedAt:   time.Now().Add(-2 * time.Minute),
	}
	require.NoError(t, store.Set(ctx, done))
	// Stale tracking entry left behind by a worker that finished right as
	// the sweep was scheduled.
	o.mu.Lock()
	o.active["done"] = time.Now().Add(-2 * time.Minute)
	o.mu.Unlock()

	o.sweepTimeouts(ctx)

	job, err := store.Get(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, job.Status)
	assert.Equal(t, "/downloads/registrations.csv", job.DownloadURL)
	assert.Empty(t, job.ErrorMessage)
}

func TestRetentionSweepEvictsOldJobs(t *testing.T) {
	ctx := context.Background()
	store := jobstore.NewMemory()
	o := newTestOrchestrator(store, &fakeSource{}, &fakeArtifacts{},
		WithRetention(time.Hour),
	)

	old := model.ExportJob{
		ID:        "old-job",
		Status:    model.JobCompleted,
		CreatedAt: time.Now().Add(-2 * time.Hour),
	}
	require.NoError(t, store.Set(ctx, old))

	o.sweepRetention(ctx)

	_, err := store.Get(ctx, "old-job")
	assert.ErrorIs(t, err, jobstore.ErrNotFound)
}
