package job

import (
	"context"
	"errors"
)

// ErrHealthcheckFailed is returned when the scheduler health check fails.
var ErrHealthcheckFailed = errors.New("job: healthcheck failed")

var (
	errSchedulerNil        = errors.New("scheduler is nil")
	errSchedulerNotStarted = errors.New("workers not started")
	errSchedulerStopped    = errors.New("scheduler stopped")
)

// Healthcheck returns a readiness check for the scheduler: workers must be
// running and, when the broker can ping, its backend reachable.
// Compatible with health.CheckFunc.
func Healthcheck(s *Scheduler) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if s == nil {
			return errors.Join(ErrHealthcheckFailed, errSchedulerNil)
		}

		s.mu.Lock()
		started, stopped := s.started, s.stopped
		s.mu.Unlock()

		if stopped {
			return errors.Join(ErrHealthcheckFailed, errSchedulerStopped)
		}
		if !started {
			return errors.Join(ErrHealthcheckFailed, errSchedulerNotStarted)
		}

		if p, ok := s.broker.(pinger); ok {
			if err := p.Ping(ctx); err != nil {
				return errors.Join(ErrHealthcheckFailed, err)
			}
		}
		return nil
	}
}
