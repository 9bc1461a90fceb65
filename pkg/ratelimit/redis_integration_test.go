//go:build integration

package ratelimit_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobcore/pkg/id"
	"github.com/dmitrymomot/jobcore/pkg/metrics"
	"github.com/dmitrymomot/jobcore/pkg/ratelimit"
	"github.com/dmitrymomot/jobcore/pkg/redis"
)

func newRedisLimiter(t *testing.T) *ratelimit.Limiter {
	t.Helper()

	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/0"
	}
	client, err := redis.Open(context.Background(), redis.Config{URL: url})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := ratelimit.NewRedisStore(client, ratelimit.WithPrefix("test:ratelimit:"+id.NewULID()+":"))
	require.NoError(t, err)

	l := ratelimit.New(store)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestRedisStore_SixthRequestDenied(t *testing.T) {
	t.Parallel()

	l := newRedisLimiter(t)
	ctx := context.Background()

	for i := range 5 {
		res, err := l.Check(ctx, "tenant:a", perMinute5)
		require.NoError(t, err)
		require.True(t, res.Allowed, "request %d", i+1)
		assert.Equal(t, metrics.SourceStore, res.Source)
	}

	res, err := l.Check(ctx, "tenant:a", perMinute5)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Zero(t, res.Remaining)
	assert.InDelta(t, time.Minute.Seconds(), res.RetryAfter().Seconds(), 5)

	other, err := l.Check(ctx, "tenant:b", perMinute5)
	require.NoError(t, err)
	assert.True(t, other.Allowed)
	assert.Equal(t, 4, other.Remaining)
}

func TestRedisStore_ConcurrentChecksAreAtomic(t *testing.T) {
	t.Parallel()

	l := newRedisLimiter(t)

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for range 40 {
		wg.Go(func() {
			res, err := l.Check(context.Background(), "hot", perMinute5)
			if err == nil && res.Allowed {
				allowed.Add(1)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, int64(5), allowed.Load())
}
