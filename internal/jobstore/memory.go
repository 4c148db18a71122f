package jobstore

import (
	"context"
	"sync"
	"time"

	"github.com/kelechi-nwosu/exam-registration-core/internal/model"
)

// Memory is a process-local Store backed by a mutex-guarded map.
//
// Documented limitation: it does not survive restarts and does not generalize
// across multiple service instances. Deployments with more than one instance
// must use the Redis store behind the same interface.
type Memory struct {
	mu   sync.RWMutex
	jobs map[string]model.ExportJob
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]model.ExportJob)}
}

func (m *Memory) Set(_ context.Context, job model.ExportJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return nil
}

func (m *Memory) Get(_ context.Context, jobID string) (model.ExportJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return model.ExportJob{}, ErrNotFound
	}
	return job, nil
}

func (m *Memory) Update(_ context.Context, jobID string, patch Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if job.Status.Terminal() {
		return ErrTerminal
	}
	m.jobs[jobID] = patch.Apply(job)
	return nil
}

func (m *Memory) Delete(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, jobID)
	return nil
}

func (m *Memory) Cleanup(_ context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, job := range m.jobs {
		if job.CreatedAt.Before(cutoff) {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) Size(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs), nil
}
