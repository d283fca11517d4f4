package optimizer

import "errors"

var (
	// ErrTooManyConcurrentRequests is returned when the admission limiter
	// rejects a check. Callers should retry later.
	ErrTooManyConcurrentRequests = errors.New("too many concurrent requests")

	// ErrBatchFailed is returned to every member of a flushed batch when
	// evaluating the batch faulted. It wraps the underlying cause.
	ErrBatchFailed = errors.New("batch evaluation failed")
)
