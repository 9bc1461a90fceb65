package shutdown

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultHandlerTimeout = 30 * time.Second
	defaultTimeout        = 60 * time.Second
)

// ErrHandlerTimeout is logged for a handler that outlives its timeout.
var ErrHandlerTimeout = errors.New("shutdown: handler timed out")

// Handler releases one resource. ctx expires at the per-handler timeout.
type Handler func(ctx context.Context) error

// State is the coordinator lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateShuttingDown:
		return "shutting_down"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

type entry struct {
	fn   Handler
	name string
}

// Coordinator is the process-wide registry of shutdown handlers.
type Coordinator struct {
	handlers       map[uint64]entry
	done           chan struct{}
	exit           func(code int)
	logger         *slog.Logger
	handlerTimeout time.Duration
	timeout        time.Duration
	nextID         uint64
	exitOnce       sync.Once
	mu             sync.Mutex
	state          atomic.Int32
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithHandlerTimeout bounds each handler. Default 30s.
func WithHandlerTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.handlerTimeout = d
		}
	}
}

// WithTimeout bounds the whole shutdown sequence. Default 60s.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithExitFunc replaces os.Exit.
func WithExitFunc(fn func(code int)) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.exit = fn
		}
	}
}

// WithLogger sets the logger for shutdown progress and handler failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates an idle Coordinator.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		handlers:       make(map[uint64]entry),
		done:           make(chan struct{}),
		exit:           os.Exit,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		handlerTimeout: defaultHandlerTimeout,
		timeout:        defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterHandler adds fn under name and returns a function that removes it.
// Handlers registered after shutdown has started are ignored. A handler
// that was accepted is always run by Shutdown.
func (c *Coordinator) RegisterHandler(name string, fn Handler) (unregister func()) {
	if fn == nil {
		return func() {}
	}

	c.mu.Lock()
	if c.State() != StateIdle {
		c.mu.Unlock()
		c.logger.Warn("shutdown in progress, handler ignored", slog.String("handler", name))
		return func() {}
	}
	c.nextID++
	id := c.nextID
	c.handlers[id] = entry{name: name, fn: fn}
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.handlers, id)
		c.mu.Unlock()
	}
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Done is closed once every handler has settled or the global timeout fired.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Shutdown runs all handlers and then exits the process with exitCode.
// Only the first call has any effect. If the handlers do not settle within the
// global timeout the process exits with status 1.
func (c *Coordinator) Shutdown(sig os.Signal, exitCode int) {
	// The state change and the snapshot happen under mu, so a concurrent
	// RegisterHandler is either in the snapshot or rejected.
	c.mu.Lock()
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateShuttingDown)) {
		c.mu.Unlock()
		return
	}
	entries := make([]entry, 0, len(c.handlers))
	for _, e := range c.handlers {
		entries = append(entries, e)
	}
	c.mu.Unlock()

	c.logger.Info("shutdown started",
		slog.String("signal", signalName(sig)),
		slog.Int("handlers", len(entries)),
	)

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	var g errgroup.Group
	for _, e := range entries {
		g.Go(func() error {
			c.run(ctx, e)
			return nil
		})
	}

	settled := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(settled)
	}()

	code := exitCode
	select {
	case <-settled:
		c.logger.Info("shutdown completed")
	case <-ctx.Done():
		c.logger.Error("shutdown timed out, forcing exit",
			slog.Duration("timeout", c.timeout),
		)
		code = 1
	}

	c.state.Store(int32(StateTerminated))
	close(c.done)
	c.exitOnce.Do(func() { c.exit(code) })
}

// run executes one handler under the per-handler timeout. A handler that
// ignores its context is abandoned when the timeout fires.
func (c *Coordinator) run(parent context.Context, e entry) {
	ctx, cancel := context.WithTimeout(parent, c.handlerTimeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("shutdown: handler panicked: %v", r)
			}
		}()
		result <- e.fn(ctx)
	}()

	var err error
	select {
	case err = <-result:
	case <-ctx.Done():
		err = errors.Join(ErrHandlerTimeout, context.Cause(ctx))
	}

	if err != nil {
		c.logger.Error("shutdown handler failed",
			slog.String("handler", e.name),
			slog.Any("error", err),
		)
		return
	}
	c.logger.Debug("shutdown handler completed", slog.String("handler", e.name))
}

// Listen calls Shutdown(sig, 0) on the first of signals (SIGINT and SIGTERM
// when none are given). It returns when a signal arrived or ctx is done.
func (c *Coordinator) Listen(ctx context.Context, signals ...os.Signal) {
	if len(signals) == 0 {
		signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, signals...)
	defer signal.Stop(ch)

	select {
	case sig := <-ch:
		c.Shutdown(sig, 0)
	case <-ctx.Done():
	}
}

func signalName(sig os.Signal) string {
	if sig == nil {
		return "none"
	}
	return sig.String()
}
