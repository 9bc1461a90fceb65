package job_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobcore/pkg/job"
)

func TestMemoryBroker_Settle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		result      func(attempt int) error
		maxAttempts int
		wantState   job.JobState
		wantAttempt int
	}{
		{
			name:        "success",
			result:      func(int) error { return nil },
			maxAttempts: 3,
			wantState:   job.JobCompleted,
			wantAttempt: 1,
		},
		{
			name:        "retried until exhausted",
			result:      func(int) error { return errors.New("boom") },
			maxAttempts: 3,
			wantState:   job.JobFailed,
			wantAttempt: 3,
		},
		{
			name:        "permanent",
			result:      func(int) error { return job.Permanent(errors.New("bad input")) },
			maxAttempts: 3,
			wantState:   job.JobCancelled,
			wantAttempt: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			b := newBroker()
			t.Cleanup(func() { _ = b.Close(ctx) })

			id, err := b.Enqueue(ctx, &job.Submission{Queue: "q", Type: "t", MaxAttempts: tt.maxAttempts})
			require.NoError(t, err)

			require.NoError(t, b.Consume(ctx, map[string]int{"q": 1}, func(_ context.Context, d *job.Delivery) error {
				return tt.result(d.Attempt)
			}))

			require.Eventually(t, func() bool { return jobState(b, id) == tt.wantState }, waitFor, 5*time.Millisecond)
			info, _ := b.Job(id)
			assert.Equal(t, tt.wantAttempt, info.Attempt)
		})
	}
}

func TestMemoryBroker_RedeliverDoesNotUseAttempt(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := newBroker()
	t.Cleanup(func() { _ = b.Close(ctx) })

	id, err := b.Enqueue(ctx, &job.Submission{Queue: "q", Type: "t", MaxAttempts: 1})
	require.NoError(t, err)

	attempts := make(chan int, 3)
	deliveries := 0
	require.NoError(t, b.Consume(ctx, map[string]int{"q": 1}, func(_ context.Context, d *job.Delivery) error {
		attempts <- d.Attempt
		deliveries++
		if deliveries < 3 {
			return job.Redeliver(time.Millisecond)
		}
		return nil
	}))

	require.Eventually(t, func() bool { return jobState(b, id) == job.JobCompleted }, waitFor, 5*time.Millisecond)
	for range 3 {
		assert.Equal(t, 1, <-attempts)
	}
}

func TestMemoryBroker_FirstFailedAt(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := newBroker()
	t.Cleanup(func() { _ = b.Close(ctx) })

	_, err := b.Enqueue(ctx, &job.Submission{Queue: "q", Type: "t", MaxAttempts: 3})
	require.NoError(t, err)

	seen := make(chan time.Time, 3)
	require.NoError(t, b.Consume(ctx, map[string]int{"q": 1}, func(_ context.Context, d *job.Delivery) error {
		seen <- d.FirstFailedAt
		return errors.New("boom")
	}))

	first := <-seen
	second := <-seen
	third := <-seen
	assert.True(t, first.IsZero())
	assert.False(t, second.IsZero())
	assert.Equal(t, second, third)
}

func TestMemoryBroker_Closed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := newBroker()
	require.NoError(t, b.Ping(ctx))
	require.NoError(t, b.Consume(ctx, map[string]int{"q": 1}, func(context.Context, *job.Delivery) error { return nil }))
	assert.Error(t, b.Consume(ctx, map[string]int{"q": 1}, func(context.Context, *job.Delivery) error { return nil }))

	require.NoError(t, b.Close(ctx))
	require.NoError(t, b.Close(ctx))

	_, err := b.Enqueue(ctx, &job.Submission{Queue: "q", Type: "t"})
	assert.ErrorIs(t, err, job.ErrBrokerClosed)
	assert.ErrorIs(t, b.Ping(ctx), job.ErrBrokerClosed)
}

func TestMemoryBroker_DelayedJob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := newBroker()
	t.Cleanup(func() { _ = b.Close(ctx) })

	_, err := b.Enqueue(ctx, &job.Submission{Queue: "q", Type: "t", MaxAttempts: 1, Delay: 100 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 1, b.Pending("q"))

	start := time.Now()
	ran := make(chan time.Time, 1)
	require.NoError(t, b.Consume(ctx, map[string]int{"q": 1}, func(context.Context, *job.Delivery) error {
		ran <- time.Now()
		return nil
	}))

	select {
	case at := <-ran:
		assert.GreaterOrEqual(t, at.Sub(start), 90*time.Millisecond)
	case <-time.After(waitFor):
		t.Fatal("delayed job did not run")
	}
}
