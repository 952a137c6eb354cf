package domain

import "context"

// JobArchive persists jobs that have left the in-memory queue.
type JobArchive interface {
	Record(ctx context.Context, job Job) error
	List(ctx context.Context, limit int) ([]Job, error)
}
