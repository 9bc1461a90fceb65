package job

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// armedTimers counts timers created by ExecuteWithTimeout that are not yet released.
var armedTimers atomic.Int64

// ExecuteWithTimeout runs work with a context derived from ctx and races it
// against timeout. A non-positive timeout disables the timer.
//
//   - ctx already done: returns an ErrCancelled error without calling work.
//   - timer fires first: cancels work's context and returns an ErrTimeout error.
//   - ctx is cancelled first: cancels work's context and returns an ErrCancelled
//     error wrapping the cancellation cause.
//
// Cancellation is cooperative: work keeps running in its goroutine until it
// observes its context. The timer and context listeners are released before
// ExecuteWithTimeout returns. A panic in work is returned as an ErrPanic error.
func ExecuteWithTimeout[T any](ctx context.Context, timeout time.Duration, work func(ctx context.Context) (T, error)) (T, error) {
	return execute(ctx, timeout, work, nil)
}

// execute is ExecuteWithTimeout that also counts the work goroutine in track,
// so callers can wait for abandoned work to return.
func execute[T any](ctx context.Context, timeout time.Duration, work func(ctx context.Context) (T, error), track *sync.WaitGroup) (T, error) {
	var zero T
	if ctx.Err() != nil {
		return zero, cancelled(ctx)
	}

	wctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		armedTimers.Add(1)
		defer func() {
			timer.Stop()
			armedTimers.Add(-1)
		}()
		expired = timer.C
	}

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)

	if track != nil {
		track.Add(1)
	}
	go func() {
		if track != nil {
			defer track.Done()
		}
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%w: %v", ErrPanic, r)}
			}
		}()
		v, err := work(wctx)
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-expired:
		err := fmt.Errorf("%w after %s", ErrTimeout, timeout)
		cancel(err)
		return zero, err
	case <-ctx.Done():
		err := cancelled(ctx)
		cancel(err)
		return zero, err
	}
}

func cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
}
