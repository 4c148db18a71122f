// Package jobstore is a pure key-value repository of export job records.
// It carries no business rules: workers publish whole-record snapshots into
// it and pollers read them back. The Store interface is the only thing
// callers depend on, so a process-local implementation and a shared/durable
// one satisfy identical contracts.
package jobstore

import (
	"context"
	"errors"
	"time"

	"github.com/kelechi-nwosu/exam-registration-core/internal/model"
)

// ErrNotFound is returned when no job exists under the given id.
var ErrNotFound = errors.New("job not found")

// ErrTerminal is returned by Update when the stored record has already
// reached a terminal status. A finalized record is immutable.
var ErrTerminal = errors.New("job already in a terminal state")

// Patch is a partial update to a job record. Nil fields are left unchanged.
type Patch struct {
	Status         *model.JobStatus
	Progress       *int
	TotalItems     *int
	ProcessedItems *int
	DownloadURL    *string
	ErrorMessage   *string
}

// Apply merges the patch into a copy of the job record.
func (p Patch) Apply(job model.ExportJob) model.ExportJob {
	if p.Status != nil {
		job.Status = *p.Status
	}
	if p.Progress != nil {
		job.Progress = *p.Progress
	}
	if p.TotalItems != nil {
		job.TotalItems = *p.TotalItems
	}
	if p.ProcessedItems != nil {
		job.ProcessedItems = *p.ProcessedItems
	}
	if p.DownloadURL != nil {
		job.DownloadURL = *p.DownloadURL
	}
	if p.ErrorMessage != nil {
		job.ErrorMessage = *p.ErrorMessage
	}
	return job
}

// Store is the export job repository contract. A job's owning worker is its
// primary writer, but the watchdog sweep may race it to finalize a stuck job,
// so implementations must make Update's terminal check atomic with the write:
// whichever writer finalizes first wins, and the loser gets ErrTerminal.
type Store interface {
	// Set stores a full job record under job.ID, replacing any previous one.
	Set(ctx context.Context, job model.ExportJob) error
	// Get returns a snapshot of the job or ErrNotFound.
	Get(ctx context.Context, jobID string) (model.ExportJob, error)
	// Update applies a partial update and republishes the whole record. It
	// returns ErrTerminal without writing if the stored record is terminal.
	Update(ctx context.Context, jobID string, patch Patch) error
	// Delete removes the job. Deleting an unknown id is a no-op.
	Delete(ctx context.Context, jobID string) error
	// Cleanup evicts jobs whose CreatedAt precedes now-maxAge and returns
	// how many were removed. All other records are left untouched.
	Cleanup(ctx context.Context, maxAge time.Duration) (int, error)
	// Size returns the number of stored jobs.
	Size(ctx context.Context) (int, error)
}
