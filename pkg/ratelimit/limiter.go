package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/dmitrymomot/jobcore/pkg/metrics"
)

// Limit is the admission policy for one key.
type Limit struct {
	MaxRequests int           `yaml:"max"`
	Window      time.Duration `yaml:"window"`
}

func (l Limit) validate() error {
	if l.MaxRequests <= 0 || l.Window <= 0 {
		return ErrInvalidLimit
	}
	return nil
}

// Result is the outcome of one admission check.
type Result struct {
	ResetAt   time.Time
	Source    string
	Limit     int
	Remaining int
	Allowed   bool
}

// RetryAfter is how long a denied caller should wait before the oldest entry
// leaves the window. It is zero for admitted requests.
func (r *Result) RetryAfter() time.Duration {
	if r.Allowed {
		return 0
	}
	return max(time.Until(r.ResetAt), 0)
}

// Decision is a store's answer for one admission attempt.
type Decision struct {
	// Oldest is the timestamp of the oldest entry still in the window.
	Oldest  time.Time
	Count   int
	Allowed bool
}

// Store applies the sliding-window algorithm atomically for one key:
// purge entries older than now-window, count, and record now when the
// count is below the limit.
type Store interface {
	Admit(ctx context.Context, key string, now time.Time, limit Limit) (Decision, error)
}

// Limiter checks keys against a shared store with a local fallback.
type Limiter struct {
	store    Store
	fallback *MemoryStore
	breaker  *Breaker
	metrics  metrics.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithFallback replaces the default in-memory fallback store.
func WithFallback(s *MemoryStore) Option {
	return func(l *Limiter) {
		if s != nil {
			l.fallback = s
		}
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *Breaker) Option {
	return func(l *Limiter) {
		if b != nil {
			l.breaker = b
		}
	}
}

// WithMetrics sets the decision and store-failure recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(l *Limiter) {
		if r != nil {
			l.metrics = r
		}
	}
}

// WithLogger sets the logger used for store failures and breaker transitions.
func WithLogger(log *slog.Logger) Option {
	return func(l *Limiter) {
		if log != nil {
			l.logger = log
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a Limiter over store. A nil store runs on the fallback only.
func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:   store,
		metrics: metrics.Nop(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.fallback == nil {
		l.fallback = NewMemoryStore()
	}
	if l.breaker == nil {
		l.breaker = NewBreaker()
	}
	l.breaker.onChange = func(from, to BreakerState) {
		l.metrics.BreakerOpen(to == BreakerOpen)
		l.logger.Warn("rate limit store breaker state changed",
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
	}
	return l
}

// Check admits or denies one request for key. Errors are returned only for
// invalid input; store failures degrade to the local fallback.
func (l *Limiter) Check(ctx context.Context, key string, limit Limit) (*Result, error) {
	if key == "" {
		return nil, ErrKeyRequired
	}
	if err := limit.validate(); err != nil {
		return nil, err
	}

	now := l.now()

	if l.store != nil && l.breaker.Allow() {
		d, err := l.store.Admit(ctx, key, now, limit)
		if err == nil {
			l.breaker.RecordSuccess()
			return l.result(d, now, limit, metrics.SourceStore), nil
		}

		// A caller abandoning the check says nothing about store health.
		if ctx.Err() == nil {
			l.breaker.RecordFailure()
		} else {
			l.breaker.Release()
		}
		l.metrics.RateLimitStoreError()
		l.logger.WarnContext(ctx, "rate limit store unavailable, using local fallback",
			slog.String("key", key),
			slog.Any("error", err),
		)
	}

	// The memory store never fails.
	d, _ := l.fallback.Admit(ctx, key, now, limit)
	return l.result(d, now, limit, metrics.SourceFallback), nil
}

// Close stops the fallback store's janitor.
func (l *Limiter) Close() error {
	return l.fallback.Close()
}

// Breaker exposes the store circuit breaker, mostly for health reporting.
func (l *Limiter) Breaker() *Breaker {
	return l.breaker
}

func (l *Limiter) result(d Decision, now time.Time, limit Limit, source string) *Result {
	l.metrics.RateLimitDecision(source, d.Allowed)

	oldest := d.Oldest
	if d.Count == 0 || oldest.IsZero() {
		oldest = now
	}
	return &Result{
		Allowed:   d.Allowed,
		Limit:     limit.MaxRequests,
		Remaining: max(limit.MaxRequests-d.Count, 0),
		ResetAt:   oldest.Add(limit.Window),
		Source:    source,
	}
}
