// Package dlq holds jobs that exhausted their retry budget.
//
// A Store is bounded: once it holds its capacity (MaxSize by default), every
// Enqueue evicts the oldest message so the newest failure is always kept.
// Peek returns messages oldest first. Purge clears the store in one atomic
// step; enqueues racing a purge land either before it (and are removed) or
// after it (and survive), never in between.
//
// Two backends are provided:
//
//	store := dlq.NewMemoryStore()                   // process-local ring buffer
//	store := dlq.NewRedisStore(client)              // shared Redis list
//	store := dlq.NewRedisStore(client, dlq.WithCapacity(500), dlq.WithKey("app:dlq"))
package dlq
