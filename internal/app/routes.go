package app

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/jobcore/pkg/health"
	"github.com/dmitrymomot/jobcore/pkg/job"
)

const (
	maxPayloadBytes  = 1 << 20
	defaultPeekLimit = 50
	maxPeekLimit     = 1000
)

func (a *App) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", health.LivenessHandler())
	r.Get("/readyz", health.ReadinessHandler(a.checks, health.WithLogger(a.logger)))
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/{type}", a.scheduleJob)
		r.Delete("/{queue}/{id}", a.cancelJob)
	})

	r.Route("/dlq", func(r chi.Router) {
		r.Get("/", a.dlqStats)
		r.Get("/messages", a.dlqPeek)
		r.Delete("/", a.dlqPurge)
	})

	return r
}

// scheduleJob submits the request body as the payload of job {type}.
// Query parameters: priority, delay, queue, key, admission.
func (a *App) scheduleJob(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, err)
		return
	}

	opts, err := scheduleOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var payload any
	if len(body) > 0 {
		payload = json.RawMessage(body)
	}

	h, err := a.scheduler.Schedule(r.Context(), chi.URLParam(r, "type"), payload, opts...)
	if err != nil {
		var limited *job.RateLimitedError
		if errors.As(err, &limited) {
			secs := int(math.Ceil(limited.RetryAfter.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
		}
		status := statusOf(err)
		if status == http.StatusInternalServerError {
			a.logger.ErrorContext(r.Context(), "schedule failed", slog.Any("error", err))
		}
		writeError(w, status, err)
		return
	}

	writeJSON(w, http.StatusAccepted, h)
}

func scheduleOptions(r *http.Request) ([]job.ScheduleOption, error) {
	q := r.URL.Query()
	var opts []job.ScheduleOption

	if v := q.Get("priority"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.New("priority must be an integer")
		}
		opts = append(opts, job.WithPriority(p))
	}
	if v := q.Get("delay"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return nil, errors.New("delay must be a non-negative duration such as 30s")
		}
		opts = append(opts, job.WithDelay(d))
	}
	if v := q.Get("queue"); v != "" {
		opts = append(opts, job.WithQueue(v))
	}
	if v := q.Get("key"); v != "" {
		opts = append(opts, job.WithRateLimitKey(v))
	}
	if v := q.Get("admission"); v != "" {
		p, err := parseAdmission(v)
		if err != nil {
			return nil, errors.New("admission must be reject or defer")
		}
		opts = append(opts, job.WithAdmission(p))
	}
	return opts, nil
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, job.ErrUnknownJob):
		return http.StatusNotFound
	case errors.Is(err, job.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, job.ErrInvalidPayload), errors.Is(err, job.ErrInvalidPriority), errors.Is(err, job.ErrUnknownQueue):
		return http.StatusBadRequest
	case errors.Is(err, job.ErrStopped), errors.Is(err, job.ErrBrokerClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *App) cancelJob(w http.ResponseWriter, r *http.Request) {
	if !a.scheduler.Cancel(chi.URLParam(r, "queue"), chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, errors.New("no running execution"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) dlqStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.deadLetters.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *App) dlqPeek(w http.ResponseWriter, r *http.Request) {
	limit := defaultPeekLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = min(n, maxPeekLimit)
	}

	msgs, err := a.deadLetters.Peek(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (a *App) dlqPurge(w http.ResponseWriter, r *http.Request) {
	n, err := a.deadLetters.Purge(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.logger.WarnContext(r.Context(), "dead letter store purged", slog.Int64("messages", n))
	writeJSON(w, http.StatusOK, map[string]int64{"purged": n})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
