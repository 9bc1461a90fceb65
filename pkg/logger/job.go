package logger

import (
	"context"
	"log/slog"
)

type jobKey struct{}

type jobInfo struct {
	id    string
	queue string
	typ   string
}

// WithJob stores the identity of the executing job in ctx.
func WithJob(ctx context.Context, id, queue, jobType string) context.Context {
	return context.WithValue(ctx, jobKey{}, jobInfo{id: id, queue: queue, typ: jobType})
}

// JobExtractors returns extractors for the job_id, job_queue and job_type
// attributes stored by WithJob.
func JobExtractors() []ContextExtractor {
	return []ContextExtractor{
		jobAttr("job_id", func(j jobInfo) string { return j.id }),
		jobAttr("job_queue", func(j jobInfo) string { return j.queue }),
		jobAttr("job_type", func(j jobInfo) string { return j.typ }),
	}
}

func jobAttr(key string, field func(jobInfo) string) ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		j, ok := ctx.Value(jobKey{}).(jobInfo)
		if !ok {
			return slog.Attr{}, false
		}
		v := field(j)
		if v == "" {
			return slog.Attr{}, false
		}
		return slog.String(key, v), true
	}
}
