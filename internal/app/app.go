package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/jobcore/pkg/db"
	"github.com/dmitrymomot/jobcore/pkg/dlq"
	"github.com/dmitrymomot/jobcore/pkg/health"
	"github.com/dmitrymomot/jobcore/pkg/job"
	"github.com/dmitrymomot/jobcore/pkg/logger"
	"github.com/dmitrymomot/jobcore/pkg/metrics"
	"github.com/dmitrymomot/jobcore/pkg/ratelimit"
	"github.com/dmitrymomot/jobcore/pkg/redis"
	"github.com/dmitrymomot/jobcore/pkg/shutdown"
)

// Ops server timeouts.
const (
	readTimeout       = 15 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 120 * time.Second
	readHeaderTimeout = 5 * time.Second
	maxHeaderBytes    = 1 << 20
	sentryFlush       = 2 * time.Second
)

// App is the worker process: scheduler, rate limiter, dead letter store and
// ops HTTP server, stopped together by one shutdown coordinator.
type App struct {
	cfg         Config
	logger      *slog.Logger
	registry    *prometheus.Registry
	scheduler   *job.Scheduler
	limiter     *ratelimit.Limiter
	deadLetters dlq.Store
	coordinator *shutdown.Coordinator
	server      *http.Server
	checks      health.Checks

	mu       sync.Mutex
	serveErr error
}

// New builds every component from cfg. Resources opened before a failure
// are released before New returns.
func New(ctx context.Context, cfg Config, opts ...Option) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	admission, _ := parseAdmission(cfg.Admission)

	o := newOptions(opts...)
	log := o.logger
	if log == nil {
		log = logger.New(cfg.Logger, logger.JobExtractors()...)
	}

	// Released in reverse order when New fails, or as scheduler stop hooks.
	var closers []func(context.Context) error
	defer func() {
		if err == nil {
			return
		}
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i](context.WithoutCancel(ctx))
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder, err := metrics.NewPrometheus(registry)
	if err != nil {
		return nil, fmt.Errorf("app: metrics: %w", err)
	}

	a := &App{
		cfg:      cfg,
		logger:   log,
		registry: registry,
		checks:   make(health.Checks),
	}

	exit := o.exit
	a.coordinator = shutdown.New(
		shutdown.WithHandlerTimeout(cfg.ShutdownHandlerTimeout),
		shutdown.WithTimeout(cfg.ShutdownTimeout),
		shutdown.WithLogger(log),
		shutdown.WithExitFunc(func(code int) {
			if !logger.Flush(sentryFlush) {
				log.Warn("sentry events dropped on exit")
			}
			exit(code)
		}),
	)

	var client goredis.UniversalClient
	if cfg.Redis.URL != "" {
		client, err = redis.Open(ctx, cfg.Redis, redis.WithLogger(log))
		if err != nil {
			return nil, fmt.Errorf("app: redis: %w", err)
		}
		closers = append(closers, redis.Shutdown(client))
		a.checks["redis"] = redis.Healthcheck(client)
	} else {
		log.Warn("REDIS_URL not set, rate limits and dead letters are process-local")
	}

	limiter, err := newLimiter(cfg, client, recorder, log)
	if err != nil {
		return nil, err
	}
	a.limiter = limiter
	closers = append(closers, func(context.Context) error { return limiter.Close() })

	if a.deadLetters, err = newDeadLetters(cfg, client, recorder); err != nil {
		return nil, err
	}

	broker, pool, err := newBroker(ctx, cfg, log)
	if pool != nil {
		closers = append(closers, db.Shutdown(pool))
		a.checks["postgres"] = db.Healthcheck(pool)
	}
	if err != nil {
		return nil, err
	}

	schedOpts := []job.Option{
		job.WithLogger(log),
		job.WithMetrics(recorder),
		job.WithRateLimiter(a.limiter),
		job.WithDLQ(a.deadLetters),
		job.WithConcurrency(cfg.Concurrency),
		job.WithDefaultAdmission(admission),
	}
	if o.onComplete != nil {
		schedOpts = append(schedOpts, job.WithCompletionHook(o.onComplete))
	}
	// The scheduler releases the stores after its last job has settled.
	for i := len(closers) - 1; i >= 0; i-- {
		schedOpts = append(schedOpts, job.WithStopHook(closers[i]))
	}

	a.scheduler, err = job.New(broker, schedOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: scheduler: %w", err)
	}
	// From here on Stop owns the closers.
	closers = []func(context.Context) error{a.scheduler.Stop}

	if err := a.register(o); err != nil {
		return nil, err
	}
	a.checks["scheduler"] = job.Healthcheck(a.scheduler)

	a.server = &http.Server{
		Addr:              cfg.OpsAddr,
		Handler:           a.routes(),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
		MaxHeaderBytes:    maxHeaderBytes,
	}

	a.coordinator.RegisterHandler("ops-server", a.server.Shutdown)
	a.scheduler.RegisterShutdown(a.coordinator)

	return a, nil
}

func newLimiter(cfg Config, client goredis.UniversalClient, rec metrics.Recorder, log *slog.Logger) (*ratelimit.Limiter, error) {
	var store ratelimit.Store
	if client != nil {
		rs, err := ratelimit.NewRedisStore(client, ratelimit.WithPrefix(cfg.RateLimitPrefix))
		if err != nil {
			return nil, fmt.Errorf("app: rate limit store: %w", err)
		}
		store = rs
	}

	return ratelimit.New(store,
		ratelimit.WithFallback(ratelimit.NewMemoryStore(ratelimit.WithMaxKeys(cfg.RateLimitFallbackKeys))),
		ratelimit.WithBreaker(ratelimit.NewBreaker(
			ratelimit.WithFailureThreshold(cfg.RateLimitFailureThreshold),
			ratelimit.WithCoolDown(cfg.RateLimitCoolDown),
		)),
		ratelimit.WithMetrics(rec),
		ratelimit.WithLogger(log),
	), nil
}

func newDeadLetters(cfg Config, client goredis.UniversalClient, rec metrics.Recorder) (dlq.Store, error) {
	opts := []dlq.Option{
		dlq.WithCapacity(cfg.DLQCapacity),
		dlq.WithKey(cfg.DLQKey),
		dlq.WithMetrics(rec),
	}
	if client == nil {
		return dlq.NewMemoryStore(opts...), nil
	}
	store, err := dlq.NewRedisStore(client, opts...)
	if err != nil {
		return nil, fmt.Errorf("app: dead letter store: %w", err)
	}
	return store, nil
}

func newBroker(ctx context.Context, cfg Config, log *slog.Logger) (job.Broker, *pgxpool.Pool, error) {
	if cfg.Broker != BrokerRiver {
		return job.NewMemoryBroker(job.WithBrokerLogger(log)), nil, nil
	}

	pool, err := db.Connect(ctx, cfg.Database, db.WithLogger(log))
	if err != nil {
		return nil, nil, fmt.Errorf("app: database: %w", err)
	}
	if err := db.Migrate(ctx, pool, log); err != nil {
		return nil, pool, fmt.Errorf("app: migrate: %w", err)
	}
	broker, err := job.NewRiverBroker(pool, job.WithRiverLogger(log))
	if err != nil {
		return nil, pool, fmt.Errorf("app: river broker: %w", err)
	}
	return broker, pool, nil
}

// register binds the catalogue and the option-supplied definitions to their
// handlers. Handlers without a definition get the defaults.
func (a *App) register(o *options) error {
	defs := o.definitions
	if a.cfg.JobsFile != "" {
		fromFile, err := job.LoadDefinitions(a.cfg.JobsFile)
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
		defs = append(defs, fromFile...)
	}

	defined := make(map[string]bool, len(defs))
	for _, def := range defs {
		h, ok := o.handlers[def.Name]
		if !ok {
			return fmt.Errorf("app: no handler for job type %q", def.Name)
		}
		if err := a.scheduler.Register(def, h); err != nil {
			return fmt.Errorf("app: %w", err)
		}
		defined[def.Name] = true
	}
	for name, h := range o.handlers {
		if defined[name] {
			continue
		}
		if err := a.scheduler.Register(job.Definition{Name: name}, h); err != nil {
			return fmt.Errorf("app: %w", err)
		}
	}

	for _, p := range o.periodic {
		if err := a.scheduler.SchedulePeriodic(p.spec, p.typeName, p.payload); err != nil {
			return fmt.Errorf("app: %w", err)
		}
	}
	return nil
}

// Scheduler returns the job scheduler.
func (a *App) Scheduler() *job.Scheduler { return a.scheduler }

// Handler returns the ops HTTP handler.
func (a *App) Handler() http.Handler { return a.server.Handler }

// Run serves the ops endpoints, starts the workers and blocks until a
// termination signal or ctx ends, then shuts down through the coordinator.
// In production the coordinator exits the process; Run returns only when the
// exit function does.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.OpsAddr)
	if err != nil {
		a.coordinator.Shutdown(nil, 1)
		return fmt.Errorf("app: listen: %w", err)
	}

	go func() {
		a.logger.Info("ops server starting", slog.String("address", ln.Addr().String()))
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("ops server failed", slog.Any("error", err))
			a.setServeErr(err)
			a.coordinator.Shutdown(nil, 1)
		}
	}()

	if err := a.scheduler.StartWorkers(ctx); err != nil {
		a.coordinator.Shutdown(nil, 1)
		return err
	}

	listenCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.coordinator.Listen(listenCtx)

	select {
	case <-a.coordinator.Done():
	case <-ctx.Done():
		a.coordinator.Shutdown(nil, 0)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.serveErr
}

func (a *App) setServeErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.serveErr = err
}

// Option configures New.
type Option func(*options)

type periodic struct {
	payload  any
	spec     string
	typeName string
}

type options struct {
	logger      *slog.Logger
	handlers    map[string]job.HandlerFunc
	onComplete  job.CompletionHook
	exit        func(int)
	definitions []job.Definition
	periodic    []periodic
}

func newOptions(opts ...Option) *options {
	o := &options{
		handlers: make(map[string]job.HandlerFunc),
		exit:     os.Exit,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithHandler binds a handler to a job type.
func WithHandler(typeName string, h job.HandlerFunc) Option {
	return func(o *options) {
		o.handlers[typeName] = h
	}
}

// WithDefinitions adds definitions in addition to JOBS_FILE.
func WithDefinitions(defs ...job.Definition) Option {
	return func(o *options) {
		o.definitions = append(o.definitions, defs...)
	}
}

// WithPeriodic schedules typeName on a 5-field cron spec.
func WithPeriodic(spec, typeName string, payload any) Option {
	return func(o *options) {
		o.periodic = append(o.periodic, periodic{spec: spec, typeName: typeName, payload: payload})
	}
}

// WithCompletionHook receives the result of every successful job.
func WithCompletionHook(fn job.CompletionHook) Option {
	return func(o *options) {
		o.onComplete = fn
	}
}

// WithLogger replaces the logger built from Config.Logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithExitFunc replaces os.Exit as the final step of shutdown.
func WithExitFunc(fn func(code int)) Option {
	return func(o *options) {
		if fn != nil {
			o.exit = fn
		}
	}
}
