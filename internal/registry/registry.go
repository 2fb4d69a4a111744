package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/stemsplit/api/internal/model"
)

// ErrTerminal is returned when an update targets a completed or failed job
var ErrTerminal = errors.New("job is in a terminal state")

// Registry holds every live job keyed by id. Readers receive copies; all
// mutation goes through Update so field changes are applied together.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job
	now  func() time.Time
}

func New() *Registry {
	return &Registry{
		jobs: make(map[string]*model.Job),
		now:  time.Now,
	}
}

// WithClock replaces the time source, for tests
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Create stores a new queued job
func (r *Registry) Create(id, sourceReference string, store model.StoreConfig) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[id]; exists {
		return nil, errors.Newf("job %s already exists", id)
	}

	now := r.now()
	job := &model.Job{
		ID:              id,
		Status:          model.JobStatusQueued,
		SourceReference: sourceReference,
		CreatedAt:       now,
		UpdatedAt:       now,
		StoreConfig:     store,
	}
	r.jobs[id] = job

	return job.Clone(), nil
}

// Get returns a point-in-time copy of the job
func (r *Registry) Get(id string) (*model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, errors.Mark(errors.Newf("job %s not found", id), model.ErrNotFound)
	}
	return job.Clone(), nil
}

// Update applies fn to the job under the write lock. If fn returns an error
// the job is left untouched. UpdatedAt is refreshed on success.
func (r *Registry) Update(id string, fn func(job *model.Job) error) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, errors.Mark(errors.Newf("job %s not found", id), model.ErrNotFound)
	}
	if job.IsTerminal() {
		return nil, errors.Wrapf(ErrTerminal, "job %s is %s", id, job.Status)
	}

	draft := job.Clone()
	if err := fn(draft); err != nil {
		return nil, err
	}
	draft.UpdatedAt = r.now()
	r.jobs[id] = draft

	return draft.Clone(), nil
}

// Remove deletes a job regardless of state
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.jobs, id)
	r.mu.Unlock()
}

// Sweep deletes every job created more than retention before now and
// returns the removed ids. A job exactly retention old is kept.
func (r *Registry) Sweep(now time.Time, retention time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for id, job := range r.jobs {
		if job.Age(now) > retention {
			delete(r.jobs, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}

// Len returns the number of jobs held
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Now returns the registry's current time
func (r *Registry) Now() time.Time {
	return r.now()
}
