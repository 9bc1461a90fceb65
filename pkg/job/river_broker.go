package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
)

// River accepts priorities 1 (most urgent) to 4.
const maxRiverPriority = 4

// RiverBroker is a Broker backed by River on PostgreSQL. The River schema
// must be migrated first, see db.Migrate.
type RiverBroker struct {
	pool     *pgxpool.Pool
	inserter *river.Client[pgx.Tx]
	logger   *slog.Logger

	mu     sync.Mutex
	client *river.Client[pgx.Tx]
	closed bool
}

// RiverBrokerOption configures a RiverBroker.
type RiverBrokerOption func(*RiverBroker)

// WithRiverLogger sets the logger handed to River.
func WithRiverLogger(l *slog.Logger) RiverBrokerOption {
	return func(b *RiverBroker) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewRiverBroker creates a broker over pool. Jobs can be enqueued right away;
// workers start with Consume.
func NewRiverBroker(pool *pgxpool.Pool, opts ...RiverBrokerOption) (*RiverBroker, error) {
	if pool == nil {
		return nil, ErrPoolRequired
	}

	b := &RiverBroker{
		pool:   pool,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}

	// Insert-only client: no queues, no workers.
	inserter, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Logger: b.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("job: create river client: %w", err)
	}
	b.inserter = inserter

	return b, nil
}

func (b *RiverBroker) Enqueue(ctx context.Context, sub *Submission) (string, error) {
	args, opts, err := riverArgs(sub)
	if err != nil {
		return "", err
	}

	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return "", ErrBrokerClosed
	}

	res, err := b.inserter.Insert(ctx, args, opts)
	if err != nil {
		return "", fmt.Errorf("job: river insert: %w", err)
	}
	return strconv.FormatInt(res.Job.ID, 10), nil
}

// EnqueueTx inserts sub within tx. The job becomes visible when tx commits.
func (b *RiverBroker) EnqueueTx(ctx context.Context, tx pgx.Tx, sub *Submission) (string, error) {
	args, opts, err := riverArgs(sub)
	if err != nil {
		return "", err
	}

	res, err := b.inserter.InsertTx(ctx, tx, args, opts)
	if err != nil {
		return "", fmt.Errorf("job: river insert tx: %w", err)
	}
	return strconv.FormatInt(res.Job.ID, 10), nil
}

func riverArgs(sub *Submission) (*taskArgs, *river.InsertOpts, error) {
	if sub == nil || sub.Queue == "" || sub.Type == "" {
		return nil, nil, errors.New("job: submission needs queue and type")
	}
	if sub.Priority < 0 || sub.Priority > maxRiverPriority {
		return nil, nil, fmt.Errorf("%w: %d not in 0..%d", ErrInvalidPriority, sub.Priority, maxRiverPriority)
	}

	opts := &river.InsertOpts{
		Queue:       sub.Queue,
		MaxAttempts: max(sub.MaxAttempts, 1),
	}
	if sub.Priority > 0 {
		opts.Priority = sub.Priority
	}
	if sub.Delay > 0 {
		opts.ScheduledAt = time.Now().Add(sub.Delay)
	}

	return &taskArgs{
		Type:         sub.Type,
		RateLimitKey: sub.RateLimitKey,
		Payload:      sub.Payload,
	}, opts, nil
}

func (b *RiverBroker) Consume(ctx context.Context, queues map[string]int, fn ConsumeFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBrokerClosed
	}
	if b.client != nil {
		return errors.New("job: river broker is already consuming")
	}

	qc := make(map[string]river.QueueConfig, len(queues))
	for name, n := range queues {
		qc[name] = river.QueueConfig{MaxWorkers: max(n, 1)}
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &taskWorker{fn: fn})

	client, err := river.NewClient(riverpgxv5.New(b.pool), &river.Config{
		Queues:  qc,
		Workers: workers,
		Logger:  b.logger,
		// Execution timeouts are enforced by the scheduler.
		JobTimeout: -1,
	})
	if err != nil {
		return fmt.Errorf("job: create river client: %w", err)
	}

	// The client lives until Close, not until ctx ends.
	if err := client.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("job: start river client: %w", err)
	}
	b.client = client
	return nil
}

func (b *RiverBroker) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	client := b.client
	b.mu.Unlock()

	if client == nil {
		return nil
	}
	if err := client.Stop(ctx); err != nil {
		return fmt.Errorf("job: stop river client: %w", err)
	}
	return nil
}

// Ping checks database connectivity. River shares the pool, so a healthy
// pool means River can reach its tables.
func (b *RiverBroker) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

// taskArgs is the River payload shared by every job type.
type taskArgs struct {
	Type         string          `json:"type"`
	RateLimitKey string          `json:"rate_limit_key,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

func (taskArgs) Kind() string { return "jobcore:task" }

type taskWorker struct {
	river.WorkerDefaults[taskArgs]
	fn ConsumeFunc
}

func (w *taskWorker) Work(ctx context.Context, job *river.Job[taskArgs]) error {
	d := &Delivery{
		ID:           strconv.FormatInt(job.ID, 10),
		Queue:        job.Queue,
		Type:         job.Args.Type,
		RateLimitKey: job.Args.RateLimitKey,
		Payload:      job.Args.Payload,
		Attempt:      job.Attempt,
		MaxAttempts:  job.MaxAttempts,
		Priority:     job.Priority,
		CreatedAt:    job.CreatedAt,
	}
	if len(job.Errors) > 0 {
		d.FirstFailedAt = job.Errors[0].At
	}

	err := w.fn(ctx, d)

	var redeliver *RedeliverError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &redeliver):
		return river.JobSnooze(redeliver.After)
	case errors.Is(err, ErrPermanent):
		return river.JobCancel(err)
	default:
		return err
	}
}

var (
	_ Broker = (*RiverBroker)(nil)
	_ pinger = (*RiverBroker)(nil)
)
