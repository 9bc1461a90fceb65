package job

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/dmitrymomot/jobcore/pkg/dlq"
	"github.com/dmitrymomot/jobcore/pkg/metrics"
	"github.com/dmitrymomot/jobcore/pkg/ratelimit"
)

const defaultConcurrency = 10

// Limiter is the admission check consulted for rate-limited job types.
type Limiter interface {
	Check(ctx context.Context, key string, limit ratelimit.Limit) (*ratelimit.Result, error)
}

// AdmissionPolicy decides what Schedule does when the rate limiter denies a job.
type AdmissionPolicy int

const (
	// AdmissionReject fails Schedule with a *RateLimitedError.
	AdmissionReject AdmissionPolicy = iota
	// AdmissionDefer enqueues the job and enforces the limit on the worker.
	AdmissionDefer
)

func (p AdmissionPolicy) String() string {
	switch p {
	case AdmissionReject:
		return "reject"
	case AdmissionDefer:
		return "defer"
	default:
		return "unknown"
	}
}

// config holds scheduler configuration.
type config struct {
	logger      *slog.Logger
	metrics     metrics.Recorder
	limiter     Limiter
	deadLetters dlq.Store
	onComplete  CompletionHook
	queues      map[string]int
	now         func() time.Time
	stopHooks   []func(context.Context) error
	concurrency int
	admission   AdmissionPolicy
}

func newConfig() *config {
	return &config{
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:     metrics.Nop(),
		queues:      make(map[string]int),
		now:         time.Now,
		concurrency: defaultConcurrency,
	}
}

// Option configures the scheduler.
type Option func(*config)

// WithLogger sets the logger. A discard logger is used by default.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(c *config) {
		if r != nil {
			c.metrics = r
		}
	}
}

// WithRateLimiter enables admission control for definitions with a RateLimit.
func WithRateLimiter(l Limiter) Option {
	return func(c *config) {
		c.limiter = l
	}
}

// WithDLQ sets the store receiving jobs that exhausted their attempts.
func WithDLQ(s dlq.Store) Option {
	return func(c *config) {
		c.deadLetters = s
	}
}

// WithConcurrency sets the worker count for queues without their own setting.
// Default 10.
func WithConcurrency(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithQueueConcurrency sets the worker count of one queue. The queue is
// consumed even if no registered definition uses it.
//
// Example:
//
//	job.WithQueueConcurrency("email", 10)
//	job.WithQueueConcurrency("reports", 2)
func WithQueueConcurrency(queue string, n int) Option {
	return func(c *config) {
		if queue != "" && n > 0 {
			c.queues[queue] = n
		}
	}
}

// WithCompletionHook sets a callback for successful executions.
func WithCompletionHook(fn CompletionHook) Option {
	return func(c *config) {
		c.onComplete = fn
	}
}

// WithStopHook appends a function run by Stop after the broker is closed,
// typically closing Redis or Postgres connections. Hooks run in order.
func WithStopHook(fn func(context.Context) error) Option {
	return func(c *config) {
		if fn != nil {
			c.stopHooks = append(c.stopHooks, fn)
		}
	}
}

// WithDefaultAdmission sets the policy used when Schedule gets no WithAdmission.
func WithDefaultAdmission(p AdmissionPolicy) Option {
	return func(c *config) {
		c.admission = p
	}
}

// scheduleConfig holds per-call Schedule options.
type scheduleConfig struct {
	queue        *string
	priority     *int
	maxRetries   *int
	admission    *AdmissionPolicy
	rateLimitKey string
	delay        time.Duration
}

// ScheduleOption configures one Schedule call. Unset options fall back to
// the job definition.
type ScheduleOption func(*scheduleConfig)

// WithPriority overrides the definition priority. Lower values run first.
func WithPriority(p int) ScheduleOption {
	return func(c *scheduleConfig) {
		c.priority = &p
	}
}

// WithDelay makes the job invisible to workers for d.
func WithDelay(d time.Duration) ScheduleOption {
	return func(c *scheduleConfig) {
		if d > 0 {
			c.delay = d
		}
	}
}

// WithQueue overrides the definition queue. The queue must be one the
// scheduler consumes: a registered definition's queue or one set with
// WithQueueConcurrency.
func WithQueue(name string) ScheduleOption {
	return func(c *scheduleConfig) {
		if name != "" {
			c.queue = &name
		}
	}
}

// WithMaxRetries overrides the definition retry count.
func WithMaxRetries(n int) ScheduleOption {
	return func(c *scheduleConfig) {
		if n >= 0 {
			c.maxRetries = &n
		}
	}
}

// WithRateLimitKey sets the admission key, e.g. "tenant:42". Without it the
// job type name is used. Only definitions with a RateLimit are checked.
func WithRateLimitKey(key string) ScheduleOption {
	return func(c *scheduleConfig) {
		c.rateLimitKey = key
	}
}

// WithAdmission sets the policy for this call.
func WithAdmission(p AdmissionPolicy) ScheduleOption {
	return func(c *scheduleConfig) {
		c.admission = &p
	}
}
