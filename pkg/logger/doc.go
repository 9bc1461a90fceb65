// Package logger builds the process's structured slog logger.
//
// Records are written as JSON to stdout. Context extractors run on every
// log call and append request- or job-scoped attributes; JobExtractors adds
// the job id, queue and type that the scheduler stores in the execution
// context with WithJob:
//
//	log := logger.New(logger.Config{Level: "debug"}, logger.JobExtractors()...)
//	ctx := logger.WithJob(ctx, "01HV...", "reports", "send-report")
//	log.InfoContext(ctx, "job started")
//	// {"level":"INFO","msg":"job started","job_id":"01HV...","job_queue":"reports","job_type":"send-report"}
//
// When Config.SentryDSN is set, warnings and errors are also forwarded to
// Sentry; errors become Sentry issues. An empty DSN keeps stdout-only logging,
// so the same code path runs in development and production.
//
// NewNope returns a logger that discards everything and is the default for
// every component that accepts a WithLogger option.
package logger
