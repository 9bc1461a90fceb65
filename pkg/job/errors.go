package job

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownJob is returned when scheduling or executing an unregistered job type.
	ErrUnknownJob = errors.New("job: unknown job type")

	// ErrInvalidDefinition is returned by Register for an unusable definition or handler.
	ErrInvalidDefinition = errors.New("job: invalid definition")

	// ErrUnknownQueue is returned by Schedule for a queue no worker consumes.
	ErrUnknownQueue = errors.New("job: unknown queue")

	// ErrInvalidPayload is returned when a payload cannot be encoded or decoded.
	ErrInvalidPayload = errors.New("job: invalid payload")

	// ErrBrokerRequired is returned by New without a broker.
	ErrBrokerRequired = errors.New("job: broker is required")

	// ErrBrokerClosed is returned by a broker after Close.
	ErrBrokerClosed = errors.New("job: broker closed")

	// ErrStopped is returned by Schedule and StartWorkers after Stop.
	ErrStopped = errors.New("job: scheduler stopped")

	// ErrAlreadyStarted is returned by a second StartWorkers call.
	ErrAlreadyStarted = errors.New("job: already started")

	// ErrTimeout marks an execution that outlived its timeout.
	ErrTimeout = errors.New("job: execution timed out")

	// ErrCancelled marks an execution whose context was cancelled.
	ErrCancelled = errors.New("job: execution cancelled")

	// ErrPanic marks a handler that panicked.
	ErrPanic = errors.New("job: handler panicked")

	// ErrRateLimited is wrapped by *RateLimitedError.
	ErrRateLimited = errors.New("job: rate limited")

	// ErrPermanent marks a failure that must not be retried.
	ErrPermanent = errors.New("job: permanent failure")

	// ErrShuttingDown is the cancellation cause of executions aborted by Stop.
	ErrShuttingDown = errors.New("job: scheduler shutting down")

	// ErrJobCancelled is the cancellation cause of executions aborted by Cancel.
	ErrJobCancelled = errors.New("job: cancelled by caller")

	// ErrPoolRequired is returned by NewRiverBroker without a pool.
	ErrPoolRequired = errors.New("job: pool is required")

	// ErrInvalidPriority is returned when a broker cannot represent a priority.
	ErrInvalidPriority = errors.New("job: invalid priority")
)

// RateLimitedError is returned by Schedule when admission was denied.
type RateLimitedError struct {
	ResetAt    time.Time
	Key        string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("job: rate limited on %q, retry after %s", e.Key, e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// RedeliverError asks the broker to put a job back after a delay without
// consuming an attempt.
type RedeliverError struct {
	After time.Duration
}

func (e *RedeliverError) Error() string {
	return fmt.Sprintf("job: redeliver after %s", e.After)
}

// Redeliver returns a *RedeliverError.
func Redeliver(after time.Duration) error {
	return &RedeliverError{After: max(after, 0)}
}

// Permanent marks err as not retryable. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() []error { return []error{ErrPermanent, e.err} }
