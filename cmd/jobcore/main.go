// Command jobcore runs a job worker with the demo handlers and the ops HTTP
// endpoints. Configuration comes from the environment, see internal/app.Config.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/dmitrymomot/jobcore/internal/app"
	"github.com/dmitrymomot/jobcore/pkg/config"
	"github.com/dmitrymomot/jobcore/pkg/job"
	"github.com/dmitrymomot/jobcore/pkg/logger"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load[app.Config]()
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logger, logger.JobExtractors()...)

	a, err := app.New(ctx, cfg,
		app.WithLogger(log),
		app.WithHandler("send-report", job.Typed(sendReport(log))),
		app.WithHandler("sync-account", job.Typed(syncAccount(log))),
		app.WithHandler("purge-expired", purgeExpired(log)),
		app.WithPeriodic("0 * * * *", "purge-expired", nil),
		app.WithCompletionHook(func(ctx context.Context, h *job.Handle, result any) {
			log.InfoContext(ctx, "job result", slog.Int("attempt", h.Attempt), slog.Any("result", result))
		}),
	)
	if err != nil {
		log.Error("failed to start", slog.Any("error", err))
		logger.Flush(sentryFlush)
		os.Exit(1)
	}

	if err := a.Run(ctx); err != nil {
		log.Error("worker stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}
