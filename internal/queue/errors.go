package queue

import "errors"

// ErrQueueFull indicates the bounded queue is at capacity.
var ErrQueueFull = errors.New("queue is full")

// ErrDuplicateJob indicates an enqueue with an id that is already registered.
var ErrDuplicateJob = errors.New("duplicate job id")

// ErrNotCancellable indicates a cancel attempt on a job that is no longer
// pending.
var ErrNotCancellable = errors.New("only pending jobs can be cancelled")

// IsQueueFull reports whether err indicates queue backpressure.
func IsQueueFull(err error) bool {
	return errors.Is(err, ErrQueueFull)
}

// IsDuplicateJob reports whether err indicates a duplicate job id.
func IsDuplicateJob(err error) bool {
	return errors.Is(err, ErrDuplicateJob)
}
