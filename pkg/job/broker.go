package job

import (
	"context"
	"encoding/json"
	"time"
)

// Broker is the durable at-least-once queue the scheduler runs on. It owns
// persistence, priority ordering, delays and retry bookkeeping.
type Broker interface {
	// Enqueue stores a job and returns its broker-assigned id.
	Enqueue(ctx context.Context, sub *Submission) (string, error)

	// Consume starts pulling jobs from every queue in queues, running at most
	// queues[name] deliveries of one queue at a time. It does not block.
	//
	// The ConsumeFunc result decides the job's fate: nil completes it, a
	// *RedeliverError puts it back without using an attempt, an error wrapping
	// ErrPermanent fails it for good, and any other error is a failed attempt
	// retried with the broker's backoff until MaxAttempts.
	Consume(ctx context.Context, queues map[string]int, fn ConsumeFunc) error

	// Close stops fetching, waits for running deliveries, and releases
	// connections owned by the broker. Safe to call more than once.
	Close(ctx context.Context) error
}

// ConsumeFunc processes one delivery.
type ConsumeFunc func(ctx context.Context, d *Delivery) error

// Submission is a job handed to Broker.Enqueue.
type Submission struct {
	Queue        string
	Type         string
	RateLimitKey string
	Payload      json.RawMessage
	Priority     int
	MaxAttempts  int
	Delay        time.Duration
}

// Delivery is one attempt of a job handed to a ConsumeFunc.
type Delivery struct {
	CreatedAt     time.Time
	FirstFailedAt time.Time
	ID            string
	Queue         string
	Type          string
	RateLimitKey  string
	Payload       json.RawMessage
	Attempt       int
	MaxAttempts   int
	Priority      int
}

// pinger is implemented by brokers that can report connectivity.
type pinger interface {
	Ping(ctx context.Context) error
}
