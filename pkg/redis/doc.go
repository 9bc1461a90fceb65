// Package redis opens the shared go-redis client used by the rate limiter and
// the dead letter store.
//
// Open validates the URL, applies pool settings from Config and pings the
// server, retrying with linear backoff until the server answers or the retry
// budget is spent:
//
//	client, err := redis.Open(ctx, redis.Config{URL: "redis://localhost:6379/0"},
//	    redis.WithLogger(log),
//	)
//
// Healthcheck and Shutdown adapt the client to readiness probes and to the
// shutdown coordinator.
package redis
