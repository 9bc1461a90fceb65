// Package job is the scheduling core: it registers handlers per job type,
// submits jobs to a durable Broker, and drives their execution under timeout
// and cancellation.
//
// # Registration and scheduling
//
//	s, err := job.New(broker,
//	    job.WithLogger(log),
//	    job.WithRateLimiter(limiter),
//	    job.WithDLQ(deadLetters),
//	    job.WithQueueConcurrency("reports", 2),
//	)
//
//	err = s.Register(job.Definition{
//	    Name:       "send-report",
//	    Queue:      "reports",
//	    MaxRetries: 2,
//	    Timeout:    time.Minute,
//	    RateLimit:  &job.RateLimit{Max: 10, Window: time.Minute},
//	}, job.Typed(func(ctx context.Context, p ReportPayload, h *job.Handle) (any, error) {
//	    return render(ctx, p)
//	}))
//
//	h, err := s.Schedule(ctx, "send-report", ReportPayload{TenantID: 42},
//	    job.WithPriority(1),
//	    job.WithRateLimitKey("tenant:42"),
//	)
//
// Schedule returns as soon as the broker accepted the job. Lower priority
// values are dispatched first within a queue; the value is passed to the
// broker unchanged.
//
// # Admission control
//
// Jobs whose definition carries a RateLimit are checked against the limiter.
// With AdmissionReject (the default) a denied Schedule call fails with a
// *RateLimitedError. With AdmissionDefer the job is enqueued anyway and the
// check runs on the worker right before the handler; a denied job is put back
// on the queue until the window frees up, without using an attempt.
//
// # Execution
//
// StartWorkers consumes every queue with bounded concurrency. Each execution
// gets its own cancellable context that Cancel and Stop can abort; handlers are
// raced against the definition's timeout by ExecuteWithTimeout. Handler
// errors always go back to the broker, which owns retry bookkeeping. When the
// last attempt fails, the job is copied to the dead letter store. A handler
// can return Permanent(err) to skip the remaining attempts.
//
// # Shutdown
//
// Stop rejects new work, cancels every running execution, waits for handlers
// to return, closes the broker, and runs stop hooks. Jobs interrupted by Stop
// are returned to the broker for redelivery and never count as failures.
package job
