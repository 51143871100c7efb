package dispatcher

import "errors"

var (
	// ErrQueueFull indicates the dispatcher cannot accept new tasks right now.
	ErrQueueFull = errors.New("task queue is full")
	// ErrQueueClosed indicates the dispatcher has been shut down.
	ErrQueueClosed = errors.New("task queue is closed")
)

// NonRetryableError marks task failures that should not be retried by the dispatcher.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return e.Err.Error()
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable wraps err so the dispatcher gives up after the current attempt.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable reports whether the provided error originated from a non-retryable failure.
func IsNonRetryable(err error) bool {
	if err == nil {
		return false
	}

	var target *NonRetryableError
	return errors.As(err, &target)
}
