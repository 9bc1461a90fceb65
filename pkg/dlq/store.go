package dlq

import (
	"context"
	"time"

	"github.com/dmitrymomot/jobcore/pkg/metrics"
)

// Store is a bounded, age-ordered holding area for failed jobs.
type Store interface {
	// Enqueue appends m, evicting the oldest message when the store is full.
	Enqueue(ctx context.Context, m *Message) error
	// Peek returns up to n messages, oldest first, without removing them.
	Peek(ctx context.Context, n int) ([]*Message, error)
	// Count returns the number of stored messages.
	Count(ctx context.Context) (int64, error)
	// Stats summarizes the stored messages.
	Stats(ctx context.Context) (*Stats, error)
	// Purge removes every message and reports how many were removed.
	Purge(ctx context.Context) (int64, error)
}

type options struct {
	metrics  metrics.Recorder
	now      func() time.Time
	key      string
	capacity int
}

func newOptions(opts ...Option) *options {
	o := &options{
		metrics:  metrics.Nop(),
		now:      time.Now,
		key:      "dlq:messages",
		capacity: MaxSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a Store.
type Option func(*options)

// WithCapacity overrides MaxSize. Non-positive values are ignored.
func WithCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.capacity = n
		}
	}
}

// WithKey sets the Redis list key. Defaults to "dlq:messages".
func WithKey(key string) Option {
	return func(o *options) {
		if key != "" {
			o.key = key
		}
	}
}

// WithMetrics reports the store size after every change.
func WithMetrics(r metrics.Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.metrics = r
		}
	}
}

// WithClock overrides the time source used for FailedAt.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
