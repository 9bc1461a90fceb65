//go:build integration

package dlq_test

import (
	"context"
	"fmt"
	"os"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobcore/pkg/dlq"
	"github.com/dmitrymomot/jobcore/pkg/id"
	"github.com/dmitrymomot/jobcore/pkg/redis"
)

func newTestRedisClient(t *testing.T) goredis.UniversalClient {
	t.Helper()

	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/0"
	}

	client, err := redis.Open(context.Background(), redis.Config{URL: url})
	require.NoError(t, err, "failed to connect to Redis")
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func newRedisStore(t *testing.T, opts ...dlq.Option) *dlq.RedisStore {
	t.Helper()

	client := newTestRedisClient(t)
	key := "test:dlq:" + id.NewULID()
	t.Cleanup(func() { _ = client.Del(context.Background(), key).Err() })

	store, err := dlq.NewRedisStore(client, append(opts, dlq.WithKey(key))...)
	require.NoError(t, err)
	return store
}

func TestRedisStore_EvictsOldest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	const capacity = 100
	store := newRedisStore(t, dlq.WithCapacity(capacity))

	for i := range capacity + 50 {
		require.NoError(t, store.Enqueue(ctx, message(i)))
	}

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(capacity), count)

	oldest, err := store.Peek(ctx, 2)
	require.NoError(t, err)
	require.Len(t, oldest, 2)
	assert.JSONEq(t, `{"n":50}`, string(oldest[0].Payload))
	assert.JSONEq(t, `{"n":51}`, string(oldest[1].Payload))
}

func TestRedisStore_StatsAndPurge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newRedisStore(t)

	for i, queue := range []string{"default", "reports", "reports"} {
		m := message(i)
		m.OriginalQueue = queue
		require.NoError(t, store.Enqueue(ctx, m))
	}

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(dlq.MaxSize), stats.Capacity)
	assert.Equal(t, map[string]int64{"default": 1, "reports": 2}, stats.ByQueue)
	assert.False(t, stats.OldestFailedAt.After(stats.NewestFailedAt))

	removed, err := store.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRedisStore_MessageRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newRedisStore(t)

	in := message(7)
	in.JobID = "42"
	require.NoError(t, store.Enqueue(ctx, in))

	out, err := store.Peek(ctx, 1)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, in.ID, out[0].ID)
	assert.Equal(t, "42", out[0].JobID)
	assert.Equal(t, "boom", out[0].Error.Message)
	assert.Equal(t, 3, out[0].Attempts)
	assert.True(t, in.FailedAt.Equal(out[0].FailedAt), fmt.Sprint(in.FailedAt, out[0].FailedAt))
}
