// Package metrics defines the observability sink the job core reports to.
//
// Components accept a Recorder through their WithMetrics option and default to
// Nop. NewPrometheus registers the jobcore_* collectors on a registerer.
package metrics

import "time"

// Failure reasons reported by JobFailed.
const (
	ReasonError       = "error"
	ReasonTimeout     = "timeout"
	ReasonPanic       = "panic"
	ReasonCancelled   = "cancelled"
	ReasonShutdown    = "shutdown"
	ReasonRateLimited = "rate_limited"
	ReasonUnknownType = "unknown_type"
)

// Rate limit decision sources.
const (
	SourceStore    = "store"
	SourceFallback = "fallback"
)

// Recorder receives counters and timings from the scheduler, rate limiter
// and dead letter store. Implementations must be safe for concurrent use.
type Recorder interface {
	JobScheduled(queue, jobType string)
	JobCompleted(queue, jobType string, d time.Duration)
	JobFailed(queue, jobType, reason string, d time.Duration)
	JobDeadLettered(queue, jobType string)
	JobsInFlight(queue string, delta int)

	RateLimitDecision(source string, allowed bool)
	RateLimitStoreError()
	BreakerOpen(open bool)

	DLQSize(n int64)
}

// Nop returns a Recorder that discards everything.
func Nop() Recorder { return nop{} }

type nop struct{}

func (nop) JobScheduled(string, string) {}
func (nop) JobCompleted(string, string, time.Duration) {}
func (nop) JobFailed(string, string, string, time.Duration) {}
func (nop) JobDeadLettered(string, string) {}
func (nop) JobsInFlight(string, int) {}
func (nop) RateLimitDecision(string, bool) {}
func (nop) RateLimitStoreError() {}
func (nop) BreakerOpen(bool) {}
func (nop) DLQSize(int64) {}
