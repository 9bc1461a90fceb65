// Package shutdown coordinates process-wide graceful termination.
//
// Components register cleanup handlers with a Coordinator. Shutdown runs every
// registered handler concurrently exactly once per process: each handler is
// bounded by its own timeout and isolated from its siblings' failures and
// panics, and the whole sequence is bounded by a global timeout after which
// the process exits with status 1 regardless of handler state.
//
//	coord := shutdown.New(shutdown.WithLogger(log))
//	coord.RegisterHandler("scheduler", scheduler.ShutdownHandler())
//	coord.RegisterHandler("redis", redis.Shutdown(client))
//	go coord.Listen(ctx, syscall.SIGINT, syscall.SIGTERM)
//	<-coord.Done()
package shutdown
