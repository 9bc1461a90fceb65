package shutdown_test

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobcore/pkg/shutdown"
)

// exitRecorder replaces os.Exit.
type exitRecorder struct {
	mu    sync.Mutex
	codes []int
}

func (r *exitRecorder) exit(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes = append(r.codes, code)
}

func (r *exitRecorder) Codes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.codes...)
}

func newCoordinator(t *testing.T, opts ...shutdown.Option) (*shutdown.Coordinator, *exitRecorder) {
	t.Helper()
	rec := &exitRecorder{}
	return shutdown.New(append([]shutdown.Option{shutdown.WithExitFunc(rec.exit)}, opts...)...), rec
}

func TestCoordinator_RunsOnce(t *testing.T) {
	t.Parallel()

	coord, exits := newCoordinator(t)

	var calls atomic.Int32
	coord.RegisterHandler("a", func(context.Context) error { calls.Add(1); return nil })
	coord.RegisterHandler("b", func(context.Context) error { calls.Add(1); return nil })

	coord.Shutdown(syscall.SIGTERM, 0)
	coord.Shutdown(syscall.SIGINT, 3)

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []int{0}, exits.Codes())
	assert.Equal(t, shutdown.StateTerminated, coord.State())

	select {
	case <-coord.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestCoordinator_RegisterDuringShutdown(t *testing.T) {
	t.Parallel()

	for range 20 {
		coord, _ := newCoordinator(t)

		var ran atomic.Int32
		var wg sync.WaitGroup
		for range 8 {
			wg.Go(func() {
				for coord.State() == shutdown.StateIdle {
					coord.RegisterHandler("late", func(context.Context) error {
						ran.Add(1)
						return nil
					})
				}
			})
		}

		coord.Shutdown(syscall.SIGTERM, 0)
		wg.Wait()

		assert.Equal(t, int32(shutdown.Registered(coord)), ran.Load(), "every stored handler must run")
	}
}

func TestCoordinator_RegisterAfterShutdown(t *testing.T) {
	t.Parallel()

	coord, _ := newCoordinator(t)
	coord.Shutdown(nil, 0)

	unregister := coord.RegisterHandler("late", func(context.Context) error { return nil })
	require.NotNil(t, unregister)
	unregister()
	assert.Zero(t, shutdown.Registered(coord))
}

func TestCoordinator_ConcurrentShutdownCalls(t *testing.T) {
	t.Parallel()

	coord, exits := newCoordinator(t)

	var calls atomic.Int32
	coord.RegisterHandler("slow", func(context.Context) error {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return nil
	})

	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() { coord.Shutdown(syscall.SIGTERM, 0) })
	}
	wg.Wait()
	<-coord.Done()

	assert.Equal(t, int32(1), calls.Load())
	assert.Len(t, exits.Codes(), 1)
}

func TestCoordinator_FailureIsolation(t *testing.T) {
	t.Parallel()

	coord, exits := newCoordinator(t)

	var mu sync.Mutex
	completed := map[string]bool{}
	mark := func(name string) {
		mu.Lock()
		completed[name] = true
		mu.Unlock()
	}

	coord.RegisterHandler("failing", func(context.Context) error {
		return errors.New("close failed")
	})
	coord.RegisterHandler("panicking", func(context.Context) error {
		panic("boom")
	})
	coord.RegisterHandler("db", func(context.Context) error {
		time.Sleep(10 * time.Millisecond)
		mark("db")
		return nil
	})
	coord.RegisterHandler("cache", func(context.Context) error {
		mark("cache")
		return nil
	})

	coord.Shutdown(syscall.SIGTERM, 0)

	assert.True(t, completed["db"])
	assert.True(t, completed["cache"])
	assert.Equal(t, []int{0}, exits.Codes(), "handler errors do not change the exit code")
}

func TestCoordinator_HandlersRunConcurrently(t *testing.T) {
	t.Parallel()

	coord, _ := newCoordinator(t)

	var started sync.WaitGroup
	started.Add(3)
	for _, name := range []string{"a", "b", "c"} {
		coord.RegisterHandler(name, func(ctx context.Context) error {
			started.Done()
			// Each handler waits for all three to start.
			started.Wait()
			return nil
		})
	}

	finished := make(chan struct{})
	go func() {
		coord.Shutdown(nil, 0)
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("handlers did not run concurrently")
	}
}

func TestCoordinator_HandlerTimeout(t *testing.T) {
	t.Parallel()

	coord, exits := newCoordinator(t, shutdown.WithHandlerTimeout(50*time.Millisecond))

	var sawDeadline atomic.Bool
	coord.RegisterHandler("cooperative", func(ctx context.Context) error {
		<-ctx.Done()
		sawDeadline.Store(errors.Is(ctx.Err(), context.DeadlineExceeded))
		return ctx.Err()
	})
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	coord.RegisterHandler("stuck", func(context.Context) error {
		<-block
		return nil
	})

	start := time.Now()
	coord.Shutdown(syscall.SIGTERM, 0)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, sawDeadline.Load())
	assert.Equal(t, []int{0}, exits.Codes())
}

func TestCoordinator_GlobalTimeoutForcesExit(t *testing.T) {
	t.Parallel()

	coord, exits := newCoordinator(t,
		shutdown.WithHandlerTimeout(10*time.Second),
		shutdown.WithTimeout(50*time.Millisecond),
	)

	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	coord.RegisterHandler("stuck", func(context.Context) error {
		<-block
		return nil
	})

	start := time.Now()
	coord.Shutdown(syscall.SIGTERM, 0)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, []int{1}, exits.Codes())
}

func TestCoordinator_Unregister(t *testing.T) {
	t.Parallel()

	coord, _ := newCoordinator(t)

	var calls atomic.Int32
	unregister := coord.RegisterHandler("temp", func(context.Context) error { calls.Add(1); return nil })
	unregister()
	unregister()

	coord.Shutdown(syscall.SIGTERM, 0)
	assert.Zero(t, calls.Load())

	late := coord.RegisterHandler("late", func(context.Context) error { calls.Add(1); return nil })
	late()
	assert.Zero(t, calls.Load())
}

func TestCoordinator_ExitCode(t *testing.T) {
	t.Parallel()

	coord, exits := newCoordinator(t)
	coord.Shutdown(syscall.SIGTERM, 2)
	assert.Equal(t, []int{2}, exits.Codes())
}

func TestCoordinator_Listen(t *testing.T) {
	// Signals are process-wide; not parallel.
	coord, exits := newCoordinator(t)

	// Keep SIGUSR1 from reaching its default action while Listen starts up.
	guard := make(chan os.Signal, 1)
	signal.Notify(guard, syscall.SIGUSR1)
	defer signal.Stop(guard)

	var called atomic.Bool
	coord.RegisterHandler("h", func(context.Context) error { called.Store(true); return nil })

	listening := make(chan struct{})
	go func() {
		close(listening)
		coord.Listen(context.Background(), syscall.SIGUSR1)
	}()
	<-listening
	// Give signal.Notify a moment to install.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR1))

	select {
	case <-coord.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown not triggered by signal")
	}
	assert.True(t, called.Load())
	assert.Equal(t, []int{0}, exits.Codes())
}

func TestCoordinator_ListenStopsWithContext(t *testing.T) {
	t.Parallel()

	coord, exits := newCoordinator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	coord.Listen(ctx, syscall.SIGUSR2)
	assert.Equal(t, shutdown.StateIdle, coord.State())
	assert.Empty(t, exits.Codes())
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "idle", shutdown.StateIdle.String())
	assert.Equal(t, "shutting_down", shutdown.StateShuttingDown.String())
	assert.Equal(t, "terminated", shutdown.StateTerminated.String())
}
