package job

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// SchedulePeriodic submits a job of typeName on every tick of the 5-field
// cron expression spec (minute hour dom month dow, UTC). Ticks start with
// StartWorkers and end with Stop. A tick whose Schedule call fails is logged
// and skipped.
func (s *Scheduler) SchedulePeriodic(spec, typeName string, payload any, opts ...ScheduleOption) error {
	if s.isStopped() {
		return ErrStopped
	}
	if _, ok := s.registry.get(typeName); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, typeName)
	}

	sched, err := parseCronSchedule(spec)
	if err != nil {
		return fmt.Errorf("job: invalid cron schedule %q: %w", spec, err)
	}

	s.cron.Schedule(sched, cron.FuncJob(func() {
		ctx := context.Background()
		if _, err := s.Schedule(ctx, typeName, payload, opts...); err != nil {
			s.logger.WarnContext(ctx, "periodic job not scheduled",
				slog.String("type", typeName),
				slog.String("schedule", spec),
				slog.Any("error", err),
			)
		}
	}))

	s.logger.Debug("periodic job added",
		slog.String("type", typeName),
		slog.String("schedule", spec),
	)
	return nil
}

func parseCronSchedule(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(expr)
}
