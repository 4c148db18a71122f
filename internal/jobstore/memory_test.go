package jobstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelechi-nwosu/exam-registration-core/internal/model"
)

func newJob(id string, createdAt time.Time) model.ExportJob {
	return model.ExportJob{
		ID:        id,
		Status:    model.JobPreparing,
		CreatedAt: createdAt,
	}
}

func TestMemorySetGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	job := newJob("j1", time.Now())
	require.NoError(t, s.Set(ctx, job))

	got, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, job, got)

	n, err := s.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryGetUnknownIsNotFound(t *testing.T) {
	s := NewMemory()
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryUpdateAppliesPartialPatch(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Set(ctx, newJob("j1", time.Now())))

	processing := model.JobProcessing
	total := 500
	require.NoError(t, s.Update(ctx, "j1", Patch{Status: &processing, TotalItems: &total}))

	got, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, model.JobProcessing, got.Status)
	assert.Equal(t, 500, got.TotalItems)
	// Untouched fields keep their values.
	assert.Equal(t, 0, got.ProcessedItems)
	assert.Empty(t, got.DownloadURL)
}

func TestMemoryUpdateRefusesTerminalRecord(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Set(ctx, newJob("j1", time.Now())))

	failed := model.JobError
	msg := "export exceeded maximum duration of 1m0s"
	require.NoError(t, s.Update(ctx, "j1", Patch{Status: &failed, ErrorMessage: &msg}))

	// A late writer losing the finalization race must not undo the
	// terminal state.
	completed := model.JobCompleted
	hundred := 100
	url := "/downloads/x.csv"
	err := s.Update(ctx, "j1", Patch{Status: &completed, Progress: &hundred, DownloadURL: &url})
	assert.ErrorIs(t, err, ErrTerminal)

	got, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, model.JobError, got.Status)
	assert.Equal(t, msg, got.ErrorMessage)
	assert.Empty(t, got.DownloadURL)
}

func TestMemoryUpdateUnknownIsNotFound(t *testing.T) {
	s := NewMemory()
	p := 10
	err := s.Update(context.Background(), "missing", Patch{Progress: &p})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Set(ctx, newJob("j1", time.Now())))

	require.NoError(t, s.Delete(ctx, "j1"))
	require.NoError(t, s.Delete(ctx, "j1"))

	_, err := s.Get(ctx, "j1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCleanupEvictsExactlyExpired(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	now := time.Now()

	old1 := newJob("old1", now.Add(-25*time.Hour))
	old2 := newJob("old2", now.Add(-48*time.Hour))
	fresh := newJob("fresh", now.Add(-1*time.Hour))
	fresh.Status = model.JobCompleted
	fresh.Progress = 100
	fresh.DownloadURL = "/downloads/x.csv"
	require.NoError(t, s.Set(ctx, old1))
	require.NoError(t, s.Set(ctx, old2))
	require.NoError(t, s.Set(ctx, fresh))

	removed, err := s.Cleanup(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = s.Get(ctx, "old1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, "old2")
	assert.ErrorIs(t, err, ErrNotFound)

	// Survivors are untouched, field for field.
	got, err := s.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, fresh, got)
}

func TestMemoryConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	const writers = 8
	const updates = 100

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		id := fmt.Sprintf("job-%d", w)
		require.NoError(t, s.Set(ctx, newJob(id, time.Now())))

		// One writer per key, many readers: the store's documented contract.
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 1; i <= updates; i++ {
				p := i
				_ = s.Update(ctx, id, Patch{ProcessedItems: &p})
			}
		}()
		go func() {
			defer wg.Done()
			last := 0
			for i := 0; i < updates; i++ {
				job, err := s.Get(ctx, id)
				if err != nil {
					continue
				}
				// Snapshots from a single writer are monotonic.
				assert.GreaterOrEqual(t, job.ProcessedItems, last)
				last = job.ProcessedItems
			}
		}()
	}
	wg.Wait()

	n, err := s.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, writers, n)
}
