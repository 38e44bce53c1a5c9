package queue

import "errors"

var (
	// ErrDuplicateJob means an active job already exists for the image. The
	// existing job is already tracking progress, so callers usually treat
	// this as a no-op rather than a failure.
	ErrDuplicateJob = errors.New("active job already exists for image")
	// ErrJobNotFound means no job row matches the given id.
	ErrJobNotFound = errors.New("job not found")
	// ErrQueueUnreachable means the worker process could not be reached.
	ErrQueueUnreachable = errors.New("queue unreachable")
	// ErrQueueRequest means the queue API rejected the request.
	ErrQueueRequest = errors.New("queue request failed")
)
