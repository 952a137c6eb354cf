package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidConfig     = errors.New("invalid generation config")
	ErrDuplicateJob      = errors.New("duplicate job id")
	ErrTerminal          = errors.New("job is in a terminal state")
	ErrInvalidTransition = errors.New("invalid job transition")
	ErrStaleEvent        = errors.New("stale event")
	ErrNotRetryable      = errors.New("job is not retryable")
)
