package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/jobcore/pkg/job"
)

const sentryFlush = 2 * time.Second

type reportRequest struct {
	ReportID  string `json:"report_id"`
	Recipient string `json:"recipient"`
}

type reportResult struct {
	ReportID string    `json:"report_id"`
	SentAt   time.Time `json:"sent_at"`
}

// sendReport renders and mails a report. A missing recipient can never
// succeed and fails permanently.
func sendReport(log *slog.Logger) func(context.Context, reportRequest, *job.Handle) (any, error) {
	return func(ctx context.Context, req reportRequest, h *job.Handle) (any, error) {
		if req.Recipient == "" {
			return nil, job.Permanent(errors.New("report recipient is required"))
		}

		log.InfoContext(ctx, "rendering report",
			slog.String("report_id", req.ReportID),
			slog.Int("attempt", h.Attempt),
		)
		if err := pause(ctx, 200*time.Millisecond); err != nil {
			return nil, err
		}
		return reportResult{ReportID: req.ReportID, SentAt: time.Now().UTC()}, nil
	}
}

type accountSync struct {
	AccountID string `json:"account_id"`
}

// syncAccount pulls account data from an upstream API. Schedule it with
// job.WithRateLimitKey(accountID) to limit calls per account.
func syncAccount(log *slog.Logger) func(context.Context, accountSync, *job.Handle) (any, error) {
	return func(ctx context.Context, req accountSync, _ *job.Handle) (any, error) {
		if req.AccountID == "" {
			return nil, job.Permanent(errors.New("account id is required"))
		}
		log.InfoContext(ctx, "syncing account", slog.String("account_id", req.AccountID))
		if err := pause(ctx, 500*time.Millisecond); err != nil {
			return nil, err
		}
		return map[string]string{"account_id": req.AccountID, "status": "synced"}, nil
	}
}

func purgeExpired(log *slog.Logger) job.HandlerFunc {
	return func(ctx context.Context, _ json.RawMessage, _ *job.Handle) (any, error) {
		log.InfoContext(ctx, "purging expired records")
		return nil, nil
	}
}

// pause waits for d unless ctx ends first.
func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
