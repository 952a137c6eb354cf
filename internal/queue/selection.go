package queue

import "matrice/internal/domain"

// Select marks id as the job being viewed. Selecting an unknown id is allowed
// and simply yields no active item.
func (q *Queue) Select(id string) {
	q.mu.Lock()
	q.selected = id
	q.mu.Unlock()
}

// SelectedID returns the current selection, possibly empty.
func (q *Queue) SelectedID() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.selected
}

// ActiveViewItem returns the selected job, if it exists.
func (q *Queue) ActiveViewItem() (domain.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.selected == "" {
		return domain.Job{}, false
	}
	idx := q.findLocked(q.selected)
	if idx < 0 {
		return domain.Job{}, false
	}
	return q.jobs[idx].Clone(), true
}
