package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dmitrymomot/jobcore/pkg/dlq"
	"github.com/dmitrymomot/jobcore/pkg/logger"
	"github.com/dmitrymomot/jobcore/pkg/metrics"
	"github.com/dmitrymomot/jobcore/pkg/shutdown"
)

// deadLetterTimeout bounds the DLQ write made after a final failure.
const deadLetterTimeout = 5 * time.Second

// Scheduler registers job handlers, submits jobs to a Broker and runs them.
type Scheduler struct {
	broker   Broker
	registry *registry
	tokens   *tokenSet
	cron     *cron.Cron
	cfg      *config
	logger   *slog.Logger
	running  sync.WaitGroup
	stopErr  error
	stopOnce sync.Once
	mu       sync.Mutex
	started  bool
	stopped  bool
}

// New creates a scheduler over broker.
func New(broker Broker, opts ...Option) (*Scheduler, error) {
	if broker == nil {
		return nil, ErrBrokerRequired
	}

	cfg := newConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	s := &Scheduler{
		broker:   broker,
		registry: newRegistry(),
		cron:     cron.New(cron.WithLocation(time.UTC)),
		cfg:      cfg,
		logger:   cfg.logger,
	}
	s.tokens = newTokenSet(&s.running)
	return s, nil
}

// Register binds def.Name to h, replacing any previous binding.
func (s *Scheduler) Register(def Definition, h HandlerFunc) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if h == nil {
		return fmt.Errorf("%w %q: handler is nil", ErrInvalidDefinition, def.Name)
	}

	def = def.withDefaults()
	s.registry.register(def, h)
	s.logger.Debug("job type registered",
		slog.String("type", def.Name),
		slog.String("queue", def.Queue),
		slog.Int("max_retries", def.MaxRetries),
	)
	return nil
}

// Schedule submits a job of the registered type typeName and returns as soon
// as the broker accepted it. payload is JSON-encoded.
func (s *Scheduler) Schedule(ctx context.Context, typeName string, payload any, opts ...ScheduleOption) (*Handle, error) {
	if s.isStopped() {
		return nil, ErrStopped
	}

	b, ok := s.registry.get(typeName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, typeName)
	}
	def := b.def

	sc := &scheduleConfig{}
	for _, opt := range opts {
		opt(sc)
	}

	queue := def.Queue
	if sc.queue != nil {
		queue = *sc.queue
		if _, ok := s.consumedQueues()[queue]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
		}
	}
	priority := def.Priority
	if sc.priority != nil {
		priority = *sc.priority
	}
	maxRetries := def.MaxRetries
	if sc.maxRetries != nil {
		maxRetries = *sc.maxRetries
	}
	admission := s.cfg.admission
	if sc.admission != nil {
		admission = *sc.admission
	}

	raw, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}

	sub := &Submission{
		Queue:       queue,
		Type:        typeName,
		Payload:     raw,
		Priority:    priority,
		MaxAttempts: maxRetries + 1,
		Delay:       sc.delay,
	}

	if def.RateLimit != nil && s.cfg.limiter != nil {
		key := sc.rateLimitKey
		if key == "" {
			key = typeName
		}
		switch admission {
		case AdmissionDefer:
			sub.RateLimitKey = key
		default:
			if err := s.admit(ctx, key, def.RateLimit); err != nil {
				return nil, err
			}
		}
	}

	id, err := s.broker.Enqueue(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("job: enqueue %s: %w", typeName, err)
	}

	s.cfg.metrics.JobScheduled(queue, typeName)
	s.logger.DebugContext(ctx, "job scheduled",
		slog.String("job_id", id),
		slog.String("type", typeName),
		slog.String("queue", queue),
		slog.Int("priority", priority),
		slog.Duration("delay", sc.delay),
	)

	return &Handle{
		ID:          id,
		Queue:       queue,
		Type:        typeName,
		Payload:     raw,
		MaxAttempts: sub.MaxAttempts,
		Priority:    priority,
		CreatedAt:   s.cfg.now(),
	}, nil
}

// admit checks the limiter for a rejecting Schedule call. Limiter failures
// admit the job.
func (s *Scheduler) admit(ctx context.Context, key string, rl *RateLimit) error {
	res, err := s.cfg.limiter.Check(ctx, key, rl.limit())
	if err != nil {
		s.logger.WarnContext(ctx, "rate limit check failed, admitting job",
			slog.String("key", key),
			slog.Any("error", err),
		)
		return nil
	}
	if res.Allowed {
		return nil
	}
	return &RateLimitedError{Key: key, RetryAfter: res.RetryAfter(), ResetAt: res.ResetAt}
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, fmt.Errorf("%w: not valid JSON", ErrInvalidPayload)
		}
		return p, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Join(ErrInvalidPayload, err)
	}
	return raw, nil
}

// StartWorkers starts consuming every queue used by a registered definition
// or configured with WithQueueConcurrency, and starts periodic jobs.
func (s *Scheduler) StartWorkers(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return ErrAlreadyStarted
	}

	queues := s.consumedQueues()
	if err := s.broker.Consume(ctx, queues, s.consume); err != nil {
		return fmt.Errorf("job: start workers: %w", err)
	}
	s.cron.Start()

	s.started = true
	s.logger.InfoContext(ctx, "job workers started",
		slog.Any("queues", queues),
		slog.Int("types", len(s.registry.names())),
	)
	return nil
}

// consumedQueues maps every queue StartWorkers consumes to its worker count:
// the queues of registered definitions and those set with WithQueueConcurrency.
func (s *Scheduler) consumedQueues() map[string]int {
	queues := make(map[string]int)
	for _, q := range s.registry.queues() {
		queues[q] = s.cfg.concurrency
	}
	for q, n := range s.cfg.queues {
		queues[q] = n
	}
	if len(queues) == 0 {
		queues[DefaultQueue] = s.cfg.concurrency
	}
	return queues
}

// consume runs one delivery. Its result follows the Broker protocol.
func (s *Scheduler) consume(ctx context.Context, d *Delivery) error {
	b, ok := s.registry.get(d.Type)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownJob, d.Type)
		s.cfg.metrics.JobFailed(d.Queue, d.Type, metrics.ReasonUnknownType, 0)
		s.logger.ErrorContext(ctx, "no handler for job type",
			slog.String("job_id", d.ID),
			slog.String("type", d.Type),
		)
		s.deadLetter(ctx, d, err)
		return Permanent(err)
	}

	if d.RateLimitKey != "" && b.def.RateLimit != nil && s.cfg.limiter != nil {
		res, err := s.cfg.limiter.Check(ctx, d.RateLimitKey, b.def.RateLimit.limit())
		if err == nil && !res.Allowed {
			s.cfg.metrics.JobFailed(d.Queue, d.Type, metrics.ReasonRateLimited, 0)
			s.logger.DebugContext(ctx, "job deferred by rate limit",
				slog.String("job_id", d.ID),
				slog.String("key", d.RateLimitKey),
				slog.Duration("retry_after", res.RetryAfter()),
			)
			return Redeliver(res.RetryAfter())
		}
	}

	jctx, cancel := context.WithCancelCause(logger.WithJob(ctx, d.ID, d.Queue, d.Type))
	defer cancel(nil)

	// An accepted token counts this call in running; execute adds the
	// handler goroutine, which may outlive it after a timeout or cancellation.
	key := d.Queue + ":" + d.ID
	tok := &token{cancel: cancel}
	if !s.tokens.put(key, tok) {
		// Stop already cancelled everything; leave the job for redelivery.
		return Redeliver(0)
	}
	defer s.running.Done()
	s.cfg.metrics.JobsInFlight(d.Queue, 1)
	defer func() {
		s.tokens.remove(key, tok)
		s.cfg.metrics.JobsInFlight(d.Queue, -1)
	}()

	h := &Handle{
		ID:          d.ID,
		Queue:       d.Queue,
		Type:        d.Type,
		Payload:     d.Payload,
		Attempt:     d.Attempt,
		MaxAttempts: d.MaxAttempts,
		Priority:    d.Priority,
		CreatedAt:   d.CreatedAt,
	}

	s.logger.DebugContext(jctx, "job started", slog.Int("attempt", d.Attempt))
	start := s.cfg.now()

	result, err := execute(jctx, b.def.Timeout, func(ctx context.Context) (any, error) {
		return b.handler(ctx, d.Payload, h)
	}, &s.running)
	elapsed := s.cfg.now().Sub(start)

	if err == nil {
		s.cfg.metrics.JobCompleted(d.Queue, d.Type, elapsed)
		s.logger.DebugContext(jctx, "job completed",
			slog.Int("attempt", d.Attempt),
			slog.Duration("duration", elapsed),
		)
		if s.cfg.onComplete != nil {
			s.cfg.onComplete(jctx, h, result)
		}
		return nil
	}

	// The execution context itself was cancelled: the outcome is decided by
	// who cancelled it, whatever the handler returned.
	if jctx.Err() != nil {
		cause := context.Cause(jctx)
		if errors.Is(cause, ErrJobCancelled) {
			s.cfg.metrics.JobFailed(d.Queue, d.Type, metrics.ReasonCancelled, elapsed)
			s.logger.InfoContext(jctx, "job cancelled", slog.Int("attempt", d.Attempt))
			return Permanent(err)
		}
		// Stop or the broker aborted the execution: not the job's fault.
		s.cfg.metrics.JobFailed(d.Queue, d.Type, metrics.ReasonShutdown, elapsed)
		s.logger.InfoContext(jctx, "job interrupted, leaving for redelivery",
			slog.Int("attempt", d.Attempt),
			slog.Any("cause", cause),
		)
		return Redeliver(0)
	}

	s.cfg.metrics.JobFailed(d.Queue, d.Type, failureReason(err), elapsed)
	s.logger.ErrorContext(jctx, "job failed",
		slog.Int("attempt", d.Attempt),
		slog.Int("max_attempts", d.MaxAttempts),
		slog.Duration("duration", elapsed),
		slog.Any("error", err),
	)

	if d.Attempt >= d.MaxAttempts || errors.Is(err, ErrPermanent) {
		s.deadLetter(ctx, d, err)
	}
	return err
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return metrics.ReasonTimeout
	case errors.Is(err, ErrPanic):
		return metrics.ReasonPanic
	default:
		return metrics.ReasonError
	}
}

// deadLetter copies a finally failed delivery to the DLQ. Write failures are
// logged; they never change the result returned to the broker.
func (s *Scheduler) deadLetter(ctx context.Context, d *Delivery, cause error) {
	if s.cfg.deadLetters == nil {
		s.logger.WarnContext(ctx, "job exhausted attempts, no dead letter store configured",
			slog.String("job_id", d.ID),
			slog.String("type", d.Type),
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deadLetterTimeout)
	defer cancel()

	now := s.cfg.now()
	first := d.FirstFailedAt
	if first.IsZero() {
		first = now
	}

	msg := &dlq.Message{
		JobID:         d.ID,
		OriginalQueue: d.Queue,
		Type:          d.Type,
		Payload:       d.Payload,
		Error:         dlq.Error{Message: cause.Error()},
		Attempts:      d.Attempt,
		MaxAttempts:   d.MaxAttempts,
		FailedAt:      now,
		FirstFailedAt: first,
	}
	if err := s.cfg.deadLetters.Enqueue(ctx, msg); err != nil {
		s.logger.ErrorContext(ctx, "failed to dead-letter job",
			slog.String("job_id", d.ID),
			slog.String("type", d.Type),
			slog.Any("error", err),
		)
		return
	}

	s.cfg.metrics.JobDeadLettered(d.Queue, d.Type)
	s.logger.WarnContext(ctx, "job moved to dead letter store",
		slog.String("job_id", d.ID),
		slog.String("type", d.Type),
		slog.String("dlq_id", msg.ID),
		slog.Int("attempts", d.Attempt),
	)
}

// Cancel aborts the running execution of job id in queue. It reports whether
// a live execution was found. A cancelled job is not retried.
func (s *Scheduler) Cancel(queue, id string) bool {
	return s.tokens.cancel(queue+":"+id, ErrJobCancelled)
}

// InFlight returns the number of executions currently running.
func (s *Scheduler) InFlight() int {
	return s.tokens.len()
}

// Stop pauses intake, cancels running executions, waits for their handlers
// (bounded by ctx), closes the broker, runs stop hooks, and clears all
// bookkeeping. Calls after the first return the first call's result.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.stopErr = s.stop(ctx)
	})
	return s.stopErr
}

func (s *Scheduler) stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	cronDone := s.cron.Stop()
	aborted := s.tokens.closeAll(ErrShuttingDown)
	s.logger.InfoContext(ctx, "job scheduler stopping", slog.Int("aborted", aborted))

	var errs []error

	if err := s.broker.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("job: close broker: %w", err))
	}

	if err := waitFor(ctx, s.running.Wait); err != nil {
		errs = append(errs, fmt.Errorf("job: wait for running jobs: %w", err))
	}
	select {
	case <-cronDone.Done():
	case <-ctx.Done():
	}

	for _, hook := range s.cfg.stopHooks {
		if err := hook(ctx); err != nil {
			errs = append(errs, fmt.Errorf("job: stop hook: %w", err))
		}
	}

	s.registry.clear()
	s.tokens.clear()

	if err := errors.Join(errs...); err != nil {
		s.logger.ErrorContext(ctx, "job scheduler stopped with errors", slog.Any("error", err))
		return err
	}
	s.logger.InfoContext(ctx, "job scheduler stopped")
	return nil
}

func waitFor(ctx context.Context, wait func()) error {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// ShutdownHandler returns Stop as a shutdown handler.
func (s *Scheduler) ShutdownHandler() func(context.Context) error {
	return func(ctx context.Context) error {
		return s.Stop(ctx)
	}
}

// ShutdownRegistrar is the part of shutdown.Coordinator the scheduler uses.
type ShutdownRegistrar interface {
	RegisterHandler(name string, fn shutdown.Handler) (unregister func())
}

// RegisterShutdown registers Stop with the coordinator.
func (s *Scheduler) RegisterShutdown(r ShutdownRegistrar) (unregister func()) {
	return r.RegisterHandler("job-scheduler", s.ShutdownHandler())
}

// StartFunc returns StartWorkers as a startup hook.
func (s *Scheduler) StartFunc() func(context.Context) error {
	return func(ctx context.Context) error {
		return s.StartWorkers(ctx)
	}
}
