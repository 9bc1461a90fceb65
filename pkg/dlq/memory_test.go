package dlq_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobcore/pkg/dlq"
)

func message(i int) *dlq.Message {
	return &dlq.Message{
		OriginalQueue: "default",
		Type:          "send-report",
		Payload:       json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)),
		Error:         dlq.Error{Message: "boom"},
		Attempts:      3,
		MaxAttempts:   3,
	}
}

func TestMemoryStore_EvictsOldest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := dlq.NewMemoryStore()

	for i := range dlq.MaxSize + 50 {
		require.NoError(t, store.Enqueue(ctx, message(i)))
	}

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(dlq.MaxSize), count)

	oldest, err := store.Peek(ctx, 3)
	require.NoError(t, err)
	require.Len(t, oldest, 3)
	assert.JSONEq(t, `{"n":50}`, string(oldest[0].Payload))
	assert.JSONEq(t, `{"n":51}`, string(oldest[1].Payload))
	assert.JSONEq(t, `{"n":52}`, string(oldest[2].Payload))

	all, err := store.Peek(ctx, dlq.MaxSize+10)
	require.NoError(t, err)
	require.Len(t, all, dlq.MaxSize)
	assert.JSONEq(t, fmt.Sprintf(`{"n":%d}`, dlq.MaxSize+49), string(all[len(all)-1].Payload))
}

func TestMemoryStore_FillsDefaults(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store := dlq.NewMemoryStore(dlq.WithClock(func() time.Time { return now }))

	m := message(1)
	require.NoError(t, store.Enqueue(context.Background(), m))

	assert.NotEmpty(t, m.ID)
	assert.Equal(t, now, m.FailedAt)
	assert.Equal(t, now, m.FirstFailedAt)

	first := now.Add(-time.Minute)
	m2 := message(2)
	m2.FirstFailedAt = first
	require.NoError(t, store.Enqueue(context.Background(), m2))
	assert.Equal(t, first, m2.FirstFailedAt)
}

func TestMemoryStore_Errors(t *testing.T) {
	t.Parallel()

	store := dlq.NewMemoryStore()
	require.ErrorIs(t, store.Enqueue(context.Background(), nil), dlq.ErrNilMessage)

	msgs, err := store.Peek(context.Background(), -1)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMemoryStore_PeekReturnsCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := dlq.NewMemoryStore()
	m := message(1)
	require.NoError(t, store.Enqueue(ctx, m))
	m.Payload[2] = 'X'

	msgs, err := store.Peek(ctx, 1)
	require.NoError(t, err)
	msgs[0].OriginalQueue = "mutated"
	msgs[0].Payload[2] = 'Y'

	again, err := store.Peek(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "default", again[0].OriginalQueue)
	assert.JSONEq(t, `{"n":1}`, string(again[0].Payload))
}

func TestMemoryStore_Stats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := dlq.NewMemoryStore(dlq.WithCapacity(10))

	for i, queue := range []string{"default", "default", "reports"} {
		m := message(i)
		m.OriginalQueue = queue
		m.FailedAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, store.Enqueue(ctx, m))
	}

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(10), stats.Capacity)
	assert.Equal(t, map[string]int64{"default": 2, "reports": 1}, stats.ByQueue)
	assert.Equal(t, base, stats.OldestFailedAt)
	assert.Equal(t, base.Add(2*time.Hour), stats.NewestFailedAt)
}

func TestMemoryStore_PurgeUnderConcurrentEnqueue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := dlq.NewMemoryStore(dlq.WithCapacity(100))
	for i := range 100 {
		require.NoError(t, store.Enqueue(ctx, message(i)))
	}

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Go(func() {
			for i := range 50 {
				_ = store.Enqueue(ctx, message(w*1000+i))
			}
		})
	}

	removed, err := store.Purge(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, removed, int64(0))
	wg.Wait()

	// Whatever landed after the purge is intact and ordered.
	count, err := store.Count(ctx)
	require.NoError(t, err)
	msgs, err := store.Peek(ctx, 200)
	require.NoError(t, err)
	assert.Len(t, msgs, int(count))
	for _, m := range msgs {
		assert.NotNil(t, m)
		assert.NotEmpty(t, m.ID)
	}

	removed, err = store.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, count, removed)

	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestNewRedisStore_RequiresClient(t *testing.T) {
	t.Parallel()

	_, err := dlq.NewRedisStore(nil)
	require.ErrorIs(t, err, dlq.ErrClientRequired)
}
