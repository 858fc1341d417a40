package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jrsteele09/go-audit-server/audit"
)

var _ Repo = (*InMemoryRepo)(nil)

// InMemoryRepo keeps jobs in process memory. Status reads only reflect jobs
// created by this process.
type InMemoryRepo struct {
	mu   sync.RWMutex
	jobs map[string]*audit.Job
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		jobs: make(map[string]*audit.Job),
	}
}

func (r *InMemoryRepo) Create(_ context.Context, job *audit.Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("[jobs Create] job id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.ID]; exists {
		return fmt.Errorf("[jobs Create] job %s already exists", job.ID)
	}
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *InMemoryRepo) Get(_ context.Context, id string) (*audit.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

func (r *InMemoryRepo) Update(_ context.Context, job *audit.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.jobs[job.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Status.Terminal() {
		return ErrTerminal
	}
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *InMemoryRepo) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, job := range r.jobs {
		if finishedBefore(job, cutoff) {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed, nil
}

func finishedBefore(job *audit.Job, cutoff time.Time) bool {
	return job.Status.Terminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff)
}
