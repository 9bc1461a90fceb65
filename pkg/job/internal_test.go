package job

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthcheck_NilScheduler(t *testing.T) {
	t.Parallel()

	err := Healthcheck(nil)(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHealthcheckFailed)
	assert.ErrorIs(t, err, errSchedulerNil)
}

func TestHealthcheck_Lifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, err := New(NewMemoryBroker())
	require.NoError(t, err)
	check := Healthcheck(s)

	err = check(ctx)
	assert.ErrorIs(t, err, ErrHealthcheckFailed)
	assert.ErrorIs(t, err, errSchedulerNotStarted)

	require.NoError(t, s.StartWorkers(ctx))
	assert.NoError(t, check(ctx))

	require.NoError(t, s.Stop(ctx))
	err = check(ctx)
	assert.ErrorIs(t, err, ErrHealthcheckFailed)
	assert.ErrorIs(t, err, errSchedulerStopped)
}

func TestParseCronSchedule(t *testing.T) {
	t.Parallel()

	valid := []string{"* * * * *", "0 * * * *", "0 0 * * 0", "*/15 * * * *", "30 14 * * *"}
	for _, expr := range valid {
		t.Run(expr, func(t *testing.T) {
			t.Parallel()

			sched, err := parseCronSchedule(expr)
			require.NoError(t, err)
			now := time.Now()
			assert.True(t, sched.Next(now).After(now))
		})
	}

	invalid := []string{"", "* * *", "* * * * * *", "60 * * * *", "* 25 * * *", "not a cron expression"}
	for _, expr := range invalid {
		t.Run("invalid "+expr, func(t *testing.T) {
			t.Parallel()

			_, err := parseCronSchedule(expr)
			assert.Error(t, err)
		})
	}
}

func TestSchedulePeriodic(t *testing.T) {
	t.Parallel()

	s, err := New(NewMemoryBroker())
	require.NoError(t, err)
	require.NoError(t, s.Register(Definition{Name: "cleanup"}, func(context.Context, json.RawMessage, *Handle) (any, error) {
		return nil, nil
	}))

	assert.NoError(t, s.SchedulePeriodic("*/5 * * * *", "cleanup", nil))
	assert.Len(t, s.cron.Entries(), 1)

	assert.ErrorIs(t, s.SchedulePeriodic("* * * * *", "missing", nil), ErrUnknownJob)
	assert.Error(t, s.SchedulePeriodic("every minute", "cleanup", nil))

	require.NoError(t, s.Stop(context.Background()))
	assert.ErrorIs(t, s.SchedulePeriodic("* * * * *", "cleanup", nil), ErrStopped)
}

func TestRiverArgs(t *testing.T) {
	t.Parallel()

	t.Run("maps submission", func(t *testing.T) {
		args, opts, err := riverArgs(&Submission{
			Queue:        "reports",
			Type:         "send-report",
			RateLimitKey: "tenant-1",
			Payload:      []byte(`{"to":"ops@example.com"}`),
			Priority:     2,
			MaxAttempts:  3,
			Delay:        time.Minute,
		})
		require.NoError(t, err)

		assert.Equal(t, "jobcore:task", args.Kind())
		assert.Equal(t, "send-report", args.Type)
		assert.Equal(t, "tenant-1", args.RateLimitKey)
		assert.Equal(t, "reports", opts.Queue)
		assert.Equal(t, 2, opts.Priority)
		assert.Equal(t, 3, opts.MaxAttempts)
		assert.True(t, opts.ScheduledAt.After(time.Now()))
	})

	t.Run("zero priority uses river default", func(t *testing.T) {
		_, opts, err := riverArgs(&Submission{Queue: "q", Type: "t"})
		require.NoError(t, err)
		assert.Zero(t, opts.Priority)
		assert.True(t, opts.ScheduledAt.IsZero())
		assert.Equal(t, 1, opts.MaxAttempts)
	})

	t.Run("priority out of range", func(t *testing.T) {
		_, _, err := riverArgs(&Submission{Queue: "q", Type: "t", Priority: 5})
		assert.ErrorIs(t, err, ErrInvalidPriority)
	})
}

func TestNewRiverBroker_RequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewRiverBroker(nil)
	assert.ErrorIs(t, err, ErrPoolRequired)
}

func TestTokenSet(t *testing.T) {
	t.Parallel()

	set := newTokenSet(nil)
	var cancelled []error
	a := &token{cancel: func(err error) { cancelled = append(cancelled, err) }}
	b := &token{cancel: func(err error) { cancelled = append(cancelled, err) }}

	require.True(t, set.put("q:1", a))
	require.True(t, set.put("q:1", b))
	assert.Empty(t, cancelled, "replacing a token does not cancel it")

	set.remove("q:1", a)
	assert.Equal(t, 1, set.len(), "stale remove keeps the newer token")

	assert.True(t, set.cancel("q:1", ErrJobCancelled))
	assert.Equal(t, []error{ErrJobCancelled}, cancelled)

	assert.Equal(t, 1, set.closeAll(ErrShuttingDown))
	assert.False(t, set.put("q:2", a))
}
