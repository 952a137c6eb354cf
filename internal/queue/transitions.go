package queue

import (
	"time"

	"matrice/internal/domain"
)

// Progress records a sampling step. The job moves to generating; totalSteps
// of zero or less is treated as 1. While generating, an event that would
// lower the percentage or the step is rejected with ErrStaleEvent. Leaving
// the download detour clears the download fields.
func (q *Queue) Progress(id string, step, totalSteps int) (domain.Job, error) {
	return q.update(id, func(j *domain.Job) error {
		if j.Status.IsTerminal() {
			return domain.ErrTerminal
		}
		total := totalSteps
		if total < 1 {
			total = 1
		}
		if step < 0 {
			step = 0
		}
		pct := clampPercent(step * 100 / total)
		if j.Status == domain.JobStatusGenerating && (pct < j.Progress || step < j.CurrentStep) {
			return domain.ErrStaleEvent
		}
		if j.Status == domain.JobStatusDownloading {
			j.ClearDownload()
		}
		j.Status = domain.JobStatusGenerating
		j.CurrentStep = step
		j.TotalSteps = total
		j.Progress = pct
		return nil
	})
}

// Preview replaces the low-fidelity intermediate image without changing
// status.
func (q *Queue) Preview(id, previewURL string) (domain.Job, error) {
	return q.update(id, func(j *domain.Job) error {
		if j.Status.IsTerminal() {
			return domain.ErrTerminal
		}
		j.PreviewURL = previewURL
		return nil
	})
}

// DownloadStarted moves a job onto the dependency-download detour. Progress
// fields are left as they are.
func (q *Queue) DownloadStarted(id, filename, sizeLabel string) (domain.Job, error) {
	now := q.clock()
	return q.updateExact(id, func(j *domain.Job) error {
		if j.Status.IsTerminal() {
			return domain.ErrTerminal
		}
		j.Status = domain.JobStatusDownloading
		j.DownloadFilename = filename
		j.DownloadSizeLabel = sizeLabel
		j.DownloadProgress = 0
		j.DownloadStartedAt = now
		return nil
	})
}

// DownloadProgress updates the download percentage of a downloading job.
func (q *Queue) DownloadProgress(id string, percent int) (domain.Job, error) {
	return q.updateExact(id, func(j *domain.Job) error {
		if err := requireDownloading(j); err != nil {
			return err
		}
		j.DownloadProgress = clampPercent(percent)
		return nil
	})
}

// DownloadComplete returns a downloading job to queued; the backend still has
// to schedule it.
func (q *Queue) DownloadComplete(id string) (domain.Job, error) {
	return q.updateExact(id, func(j *domain.Job) error {
		if err := requireDownloading(j); err != nil {
			return err
		}
		j.Status = domain.JobStatusQueued
		j.ClearDownload()
		return nil
	})
}

// DownloadFailed ends a downloading job in error. Clearing the download
// start time disarms the download timeout for this job.
func (q *Queue) DownloadFailed(id, message string) (domain.Job, error) {
	now := q.clock()
	return q.updateExact(id, func(j *domain.Job) error {
		if err := requireDownloading(j); err != nil {
			return err
		}
		j.ClearDownload()
		fail(j, message, domain.FailureDownload, now)
		return nil
	})
}

// Complete finalizes a job with its image reference.
func (q *Queue) Complete(id, url string) (domain.Job, error) {
	now := q.clock()
	return q.updateExact(id, func(j *domain.Job) error {
		if j.Status.IsTerminal() {
			return domain.ErrTerminal
		}
		j.Status = domain.JobStatusComplete
		j.URL = url
		j.Progress = 100
		if j.TotalSteps < 1 {
			j.TotalSteps = 1
		}
		j.CurrentStep = j.TotalSteps
		j.EndTime = now
		j.ClearDownload()
		return nil
	})
}

// Fail ends a job in error. Partial state such as CurrentStep and PreviewURL
// is kept for diagnostics.
func (q *Queue) Fail(id, message string, kind domain.FailureKind) (domain.Job, error) {
	now := q.clock()
	return q.updateExact(id, func(j *domain.Job) error {
		if j.Status.IsTerminal() {
			return domain.ErrTerminal
		}
		j.ClearDownload()
		fail(j, message, kind, now)
		return nil
	})
}

// Remove deletes a job regardless of its status.
func (q *Queue) Remove(id string) (domain.Job, error) {
	q.mu.Lock()
	idx := q.findLocked(id)
	if idx < 0 {
		q.mu.Unlock()
		return domain.Job{}, domain.ErrNotFound
	}
	removed := q.removeLocked(idx)
	observers := q.observers
	q.mu.Unlock()

	notify(observers, Change{Kind: ChangeRemoved, Job: removed, Previous: removed.Status, Reason: RemovedByUser})
	return removed, nil
}

// ClearFinished removes every terminal job.
func (q *Queue) ClearFinished() []domain.Job {
	return q.removeWhere(RemovedCleared, func(j *domain.Job, _ time.Time) bool {
		return j.Status.IsTerminal()
	})
}

// CleanupStale evicts terminal jobs whose EndTime is more than ttl ago.
func (q *Queue) CleanupStale(ttl time.Duration) []domain.Job {
	return q.removeWhere(RemovedEvicted, func(j *domain.Job, now time.Time) bool {
		return j.Status.IsTerminal() && !j.EndTime.IsZero() && now.Sub(j.EndTime) > ttl
	})
}

func (q *Queue) removeWhere(reason RemoveReason, match func(j *domain.Job, now time.Time) bool) []domain.Job {
	now := q.clock()
	q.mu.Lock()
	var removed []domain.Job
	for i := 0; i < len(q.jobs); {
		if match(q.jobs[i], now) {
			removed = append(removed, q.removeLocked(i))
			continue
		}
		i++
	}
	observers := q.observers
	q.mu.Unlock()

	changes := make([]Change, 0, len(removed))
	for _, j := range removed {
		changes = append(changes, Change{Kind: ChangeRemoved, Job: j, Previous: j.Status, Reason: reason})
	}
	notify(observers, changes...)
	return removed
}

// Expiry describes the force-fail thresholds applied by ExpireOverdue.
type Expiry struct {
	GenerationTimeout time.Duration
	GenerationMessage string
	DownloadTimeout   time.Duration
	DownloadMessage   string
}

// ExpireOverdue force-fails queued and generating jobs older than the
// generation timeout (measured from StartTime) and downloading jobs that have
// been downloading longer than the download timeout.
func (q *Queue) ExpireOverdue(e Expiry) []domain.Job {
	now := q.clock()
	return q.failWhere(domain.FailureTimeout, func(j *domain.Job) (string, bool) {
		switch j.Status {
		case domain.JobStatusQueued, domain.JobStatusGenerating:
			if e.GenerationTimeout > 0 && now.Sub(j.StartTime) > e.GenerationTimeout {
				return e.GenerationMessage, true
			}
		case domain.JobStatusDownloading:
			since := j.DownloadStartedAt
			if since.IsZero() {
				since = j.StartTime
			}
			if e.DownloadTimeout > 0 && now.Sub(since) > e.DownloadTimeout {
				return e.DownloadMessage, true
			}
		}
		return "", false
	})
}

// FailUnfinished fails every queued or generating job. It is used when the
// backend can no longer vouch for in-flight work.
func (q *Queue) FailUnfinished(message string) []domain.Job {
	return q.failWhere(domain.FailureConnectionLost, func(j *domain.Job) (string, bool) {
		if j.Status == domain.JobStatusQueued || j.Status == domain.JobStatusGenerating {
			return message, true
		}
		return "", false
	})
}

func (q *Queue) failWhere(kind domain.FailureKind, match func(j *domain.Job) (string, bool)) []domain.Job {
	now := q.clock()
	q.mu.Lock()
	var failed []domain.Job
	var changes []Change
	for _, j := range q.jobs {
		msg, ok := match(j)
		if !ok {
			continue
		}
		prev := j.Status
		j.ClearDownload()
		fail(j, msg, kind, now)
		out := j.Clone()
		failed = append(failed, out)
		changes = append(changes, Change{Kind: ChangeUpdated, Job: out.Clone(), Previous: prev})
	}
	observers := q.observers
	q.mu.Unlock()

	for _, j := range failed {
		q.logger.Warn().Str("job_id", j.ID).Str("kind", string(kind)).Msg("queue: job force-failed")
	}
	notify(observers, changes...)
	return failed
}

func requireDownloading(j *domain.Job) error {
	if j.Status.IsTerminal() {
		return domain.ErrTerminal
	}
	if j.Status != domain.JobStatusDownloading {
		return domain.ErrInvalidTransition
	}
	return nil
}

func fail(j *domain.Job, message string, kind domain.FailureKind, now time.Time) {
	j.Status = domain.JobStatusError
	j.ErrorMessage = message
	j.FailureKind = kind
	j.EndTime = now
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
