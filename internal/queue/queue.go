// Package queue owns the ordered set of client-tracked generation jobs and
// every state transition applied to them. A Queue is the single mutable
// source of truth for job status: the event stream, the stale-job monitor
// and the submit flow are only callers of its methods.
package queue

import (
	"errors"
	"sync"
	"time"

	"matrice/internal/domain"
	"matrice/internal/infra"
)

// ErrMissingID is returned by Add for a job without an ID.
var ErrMissingID = errors.New("queue: job id is required")

// ChangeKind describes what happened to a job.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeUpdated ChangeKind = "updated"
	ChangeRemoved ChangeKind = "removed"
)

// RemoveReason explains why a job left the queue.
type RemoveReason string

const (
	RemovedByUser  RemoveReason = "user"
	RemovedEvicted RemoveReason = "evicted"
	RemovedCleared RemoveReason = "cleared"
)

// Change is delivered to observers after a mutation commits.
type Change struct {
	Kind     ChangeKind
	Job      domain.Job
	Previous domain.JobStatus
	Reason   RemoveReason
}

// Observer receives committed changes. Calls happen outside the queue lock,
// in commit order per mutation.
type Observer interface {
	QueueChanged(Change)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Change)

func (f ObserverFunc) QueueChanged(c Change) { f(c) }

// Options configures a Queue.
type Options struct {
	Clock     func() time.Time
	Logger    *infra.Logger
	Observers []Observer
}

// Queue is safe for concurrent use. Every mutation reads the current state
// and commits a complete new job record under one lock.
type Queue struct {
	mu        sync.Mutex
	jobs      []*domain.Job
	selected  string
	clock     func() time.Time
	logger    *infra.Logger
	observers []Observer
}

// New constructs an empty queue.
func New(opts Options) *Queue {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &Queue{
		clock:     clock,
		logger:    logger,
		observers: append([]Observer(nil), opts.Observers...),
	}
}

// Observe registers an additional observer.
func (q *Queue) Observe(o Observer) {
	q.mu.Lock()
	q.observers = append(q.observers, o)
	q.mu.Unlock()
}

// Add enqueues a new job in the queued state. The caller assigns the ID; the
// queue stamps StartTime and resets every lifecycle field. The first job
// added while nothing is selected becomes the selection.
func (q *Queue) Add(job domain.Job) (domain.Job, error) {
	if job.ID == "" {
		return domain.Job{}, ErrMissingID
	}
	q.mu.Lock()
	if q.findLocked(job.ID) >= 0 {
		q.mu.Unlock()
		return domain.Job{}, domain.ErrDuplicateJob
	}
	fresh := job.Clone()
	fresh.Status = domain.JobStatusQueued
	fresh.Progress = 0
	fresh.CurrentStep = 0
	if fresh.TotalSteps < 1 {
		fresh.TotalSteps = 1
	}
	fresh.PreviewURL = ""
	fresh.URL = ""
	fresh.ErrorMessage = ""
	fresh.FailureKind = ""
	fresh.StartTime = q.clock()
	fresh.EndTime = time.Time{}
	fresh.ClearDownload()
	q.jobs = append(q.jobs, &fresh)
	if q.selected == "" {
		q.selected = fresh.ID
	}
	out := fresh.Clone()
	observers := q.observers
	q.mu.Unlock()

	q.logger.Debug().Str("job_id", out.ID).Int64("seed", out.Seed).Msg("queue: job added")
	notify(observers, Change{Kind: ChangeAdded, Job: out.Clone()})
	return out, nil
}

// Get returns a copy of the job with the given ID.
func (q *Queue) Get(id string) (domain.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := q.findLocked(id)
	if idx < 0 {
		return domain.Job{}, false
	}
	return q.jobs[idx].Clone(), true
}

// List returns copies of all jobs in queue order.
func (q *Queue) List() []domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, j.Clone())
	}
	return out
}

// Len reports the number of tracked jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// CountByStatus tallies jobs per status.
func (q *Queue) CountByStatus() map[domain.JobStatus]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[domain.JobStatus]int, len(domain.AllJobStatuses))
	for _, j := range q.jobs {
		out[j.Status]++
	}
	return out
}

func (q *Queue) findLocked(id string) int {
	for i, j := range q.jobs {
		if j.ID == id {
			return i
		}
	}
	return -1
}

// targetLocked resolves an event target. An empty id addresses the first
// generating or queued job in queue order, because the backend omits ids on
// some progress and preview events while it runs a single job.
func (q *Queue) targetLocked(id string) int {
	if id != "" {
		return q.findLocked(id)
	}
	for i, j := range q.jobs {
		if j.Status == domain.JobStatusGenerating || j.Status == domain.JobStatusQueued {
			return i
		}
	}
	return -1
}

// update applies fn to a copy of the addressed job and commits the copy only
// when fn succeeds, so a rejected event leaves the queue untouched.
func (q *Queue) update(id string, fn func(j *domain.Job) error) (domain.Job, error) {
	q.mu.Lock()
	idx := q.targetLocked(id)
	if idx < 0 {
		q.mu.Unlock()
		return domain.Job{}, domain.ErrNotFound
	}
	current := q.jobs[idx]
	next := *current
	if err := fn(&next); err != nil {
		q.mu.Unlock()
		return domain.Job{}, err
	}
	prev := current.Status
	*current = next
	out := next.Clone()
	observers := q.observers
	q.mu.Unlock()

	notify(observers, Change{Kind: ChangeUpdated, Job: out.Clone(), Previous: prev})
	return out, nil
}

// updateExact is update without implicit targeting: an empty id matches
// nothing.
func (q *Queue) updateExact(id string, fn func(j *domain.Job) error) (domain.Job, error) {
	if id == "" {
		return domain.Job{}, domain.ErrNotFound
	}
	return q.update(id, fn)
}

// removeLocked deletes the job at idx and repairs the selection: when the
// removed job was selected, the most recently added remaining job becomes
// selected, or nothing when the queue is empty.
func (q *Queue) removeLocked(idx int) domain.Job {
	removed := q.jobs[idx]
	q.jobs = append(q.jobs[:idx], q.jobs[idx+1:]...)
	if q.selected == removed.ID {
		q.selected = ""
		if n := len(q.jobs); n > 0 {
			q.selected = q.jobs[n-1].ID
		}
	}
	return removed.Clone()
}

func notify(observers []Observer, changes ...Change) {
	for _, c := range changes {
		for _, o := range observers {
			o.QueueChanged(c)
		}
	}
}
