package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/jobcore/pkg/id"
)

// JobState is the lifecycle state of a job held by MemoryBroker.
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// JobInfo is a snapshot of a MemoryBroker job.
type JobInfo struct {
	RunAt       time.Time
	State       JobState
	Queue       string
	Type        string
	LastError   string
	Attempt     int
	MaxAttempts int
	Priority    int
}

type memJob struct {
	createdAt     time.Time
	firstFailedAt time.Time
	runAt         time.Time
	id            string
	queue         string
	typ           string
	rateLimitKey  string
	lastErr       string
	state         JobState
	payload       []byte
	seq           uint64
	attempt       int
	maxAttempts   int
	priority      int
}

// MemoryBroker is an in-process Broker for tests and single-process setups.
// Jobs are lost when the process exits.
//
// Within a queue, due jobs are claimed by lowest priority value, then earliest
// run time, then submission order. Failed attempts are retried after the
// backoff until MaxAttempts.
type MemoryBroker struct {
	jobs     map[string]*memJob
	changed  chan struct{} // closed and replaced on every change
	backoff  func(attempt int) time.Duration
	now      func() time.Time
	logger   *slog.Logger
	cancel   context.CancelFunc
	workers  sync.WaitGroup
	poll     time.Duration
	seq      uint64
	mu       sync.Mutex
	closed   bool
	consumed bool
}

// MemoryBrokerOption configures a MemoryBroker.
type MemoryBrokerOption func(*MemoryBroker)

// WithBackoff sets the delay before retrying a failed attempt.
// Default: attempt × 1s.
func WithBackoff(fn func(attempt int) time.Duration) MemoryBrokerOption {
	return func(b *MemoryBroker) {
		if fn != nil {
			b.backoff = fn
		}
	}
}

// WithPollInterval bounds how long an idle worker sleeps between checks.
// Default 1s.
func WithPollInterval(d time.Duration) MemoryBrokerOption {
	return func(b *MemoryBroker) {
		if d > 0 {
			b.poll = d
		}
	}
}

// WithBrokerLogger sets the broker logger.
func WithBrokerLogger(l *slog.Logger) MemoryBrokerOption {
	return func(b *MemoryBroker) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewMemoryBroker creates an empty MemoryBroker.
func NewMemoryBroker(opts ...MemoryBrokerOption) *MemoryBroker {
	b := &MemoryBroker{
		jobs:    make(map[string]*memJob),
		changed: make(chan struct{}),
		backoff: func(attempt int) time.Duration { return time.Duration(attempt) * time.Second },
		now:     time.Now,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		poll:    time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *MemoryBroker) Enqueue(_ context.Context, sub *Submission) (string, error) {
	if sub == nil || sub.Queue == "" || sub.Type == "" {
		return "", errors.New("job: submission needs queue and type")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", ErrBrokerClosed
	}

	now := b.now()
	b.seq++
	j := &memJob{
		id:           id.NewULIDAt(now),
		queue:        sub.Queue,
		typ:          sub.Type,
		payload:      append([]byte(nil), sub.Payload...),
		rateLimitKey: sub.RateLimitKey,
		priority:     sub.Priority,
		maxAttempts:  max(sub.MaxAttempts, 1),
		createdAt:    now,
		runAt:        now.Add(sub.Delay),
		state:        JobPending,
		seq:          b.seq,
	}
	b.jobs[j.id] = j
	b.notify()
	return j.id, nil
}

func (b *MemoryBroker) Consume(_ context.Context, queues map[string]int, fn ConsumeFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBrokerClosed
	}
	if b.consumed {
		return errors.New("job: memory broker is already consuming")
	}
	b.consumed = true

	loopCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	for queue, n := range queues {
		for range max(n, 1) {
			b.workers.Go(func() { b.work(loopCtx, queue, fn) })
		}
	}
	return nil
}

// Close stops the workers and waits for running deliveries, bounded by ctx.
// Running deliveries are not cancelled.
func (b *MemoryBroker) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		if b.cancel != nil {
			b.cancel()
		}
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("job: memory broker close: %w", ctx.Err())
	}
}

// Ping reports whether the broker is open.
func (b *MemoryBroker) Ping(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	return nil
}

// Job returns a snapshot of job id.
func (b *MemoryBroker) Job(id string) (JobInfo, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.jobs[id]
	if !ok {
		return JobInfo{}, false
	}
	return JobInfo{
		State:       j.state,
		Queue:       j.queue,
		Type:        j.typ,
		LastError:   j.lastErr,
		Attempt:     j.attempt,
		MaxAttempts: j.maxAttempts,
		Priority:    j.priority,
		RunAt:       j.runAt,
	}, true
}

// Pending returns the number of jobs waiting in queue.
func (b *MemoryBroker) Pending(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, j := range b.jobs {
		if j.queue == queue && j.state == JobPending {
			n++
		}
	}
	return n
}

func (b *MemoryBroker) work(ctx context.Context, queue string, fn ConsumeFunc) {
	for {
		j, d, wake, wait := b.claim(queue)
		if j == nil {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-wake:
			case <-timer.C:
			}
			timer.Stop()
			continue
		}

		// Deliveries run to completion even while closing.
		err := b.deliver(fn, d)
		b.settle(j, err)

		if ctx.Err() != nil {
			return
		}
	}
}

func (b *MemoryBroker) deliver(fn ConsumeFunc, d *Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return fn(context.Background(), d)
}

// claim picks the next due job of queue. When none is due it returns the
// change channel and how long to sleep.
func (b *MemoryBroker) claim(queue string) (*memJob, *Delivery, <-chan struct{}, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	var best *memJob
	wait := b.poll
	for _, j := range b.jobs {
		if j.queue != queue || j.state != JobPending {
			continue
		}
		if j.runAt.After(now) {
			wait = min(wait, j.runAt.Sub(now))
			continue
		}
		if best == nil || before(j, best) {
			best = j
		}
	}
	if best == nil || b.closed {
		return nil, nil, b.changed, wait
	}

	best.state = JobRunning
	best.attempt++
	return best, &Delivery{
		ID:            best.id,
		Queue:         best.queue,
		Type:          best.typ,
		RateLimitKey:  best.rateLimitKey,
		Payload:       append([]byte(nil), best.payload...),
		Attempt:       best.attempt,
		MaxAttempts:   best.maxAttempts,
		Priority:      best.priority,
		CreatedAt:     best.createdAt,
		FirstFailedAt: best.firstFailedAt,
	}, nil, 0
}

func before(a, b *memJob) bool {
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	if !a.runAt.Equal(b.runAt) {
		return a.runAt.Before(b.runAt)
	}
	return a.seq < b.seq
}

// settle applies the ConsumeFunc result to j.
func (b *MemoryBroker) settle(j *memJob, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.notify()

	now := b.now()
	var redeliver *RedeliverError

	switch {
	case err == nil:
		j.state = JobCompleted
	case errors.As(err, &redeliver):
		j.attempt--
		j.state = JobPending
		j.runAt = now.Add(redeliver.After)
	case errors.Is(err, ErrPermanent):
		j.recordFailure(err, now)
		j.state = JobCancelled
	default:
		j.recordFailure(err, now)
		if j.attempt >= j.maxAttempts {
			j.state = JobFailed
			b.logger.Warn("job discarded after final attempt",
				slog.String("job_id", j.id),
				slog.String("type", j.typ),
				slog.Int("attempts", j.attempt),
			)
			return
		}
		j.state = JobPending
		j.runAt = now.Add(b.backoff(j.attempt))
	}
}

func (j *memJob) recordFailure(err error, now time.Time) {
	j.lastErr = err.Error()
	if j.firstFailedAt.IsZero() {
		j.firstFailedAt = now
	}
}

// notify wakes idle workers. Caller holds mu.
func (b *MemoryBroker) notify() {
	close(b.changed)
	b.changed = make(chan struct{})
}

var (
	_ Broker = (*MemoryBroker)(nil)
	_ pinger = (*MemoryBroker)(nil)
)
