// Package ratelimit implements sliding-window admission control per key.
//
// A Limiter consults a shared Store (RedisStore) and transparently falls back
// to a process-local MemoryStore when the shared store errors. A circuit
// Breaker counts consecutive store failures; while it is open, checks skip the
// store and go straight to the fallback, so a down Redis costs one failed
// round trip per cool-down period instead of one per call.
//
//	store, err := ratelimit.NewRedisStore(client)
//	if err != nil {
//	    return err
//	}
//	limiter := ratelimit.New(store,
//	    ratelimit.WithMetrics(rec),
//	    ratelimit.WithLogger(log),
//	)
//	res, err := limiter.Check(ctx, "tenant:42", ratelimit.Limit{MaxRequests: 5, Window: time.Minute})
//	if err == nil && !res.Allowed {
//	    retryIn := res.RetryAfter()
//	}
//
// Every key has its own window: denials on one key never affect another.
// Fallback state is per process, so admission degrades to per-process limits
// while the shared store is unavailable.
package ratelimit
