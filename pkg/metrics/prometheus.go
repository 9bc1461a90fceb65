package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "jobcore"

// Prometheus is a Recorder backed by Prometheus collectors.
type Prometheus struct {
	scheduled    *prometheus.CounterVec
	completed    *prometheus.CounterVec
	failed       *prometheus.CounterVec
	deadLettered *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	inFlight     *prometheus.GaugeVec
	decisions    *prometheus.CounterVec
	storeErrors  prometheus.Counter
	breakerOpen  prometheus.Gauge
	dlqSize      prometheus.Gauge
}

// NewPrometheus creates the jobcore collectors and registers them on reg.
// Collectors already registered on reg are reused.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		scheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_scheduled_total",
			Help:      "Jobs accepted by Schedule.",
		}, []string{"queue", "type"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Job executions that returned without error.",
		}, []string{"queue", "type"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Job executions that did not complete, by reason.",
		}, []string{"queue", "type", "reason"}),
		deadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_dead_lettered_total",
			Help:      "Jobs moved to the dead letter store after exhausting retries.",
		}, []string{"queue", "type"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Handler execution time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue", "type"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Handlers currently executing.",
		}, []string{"queue"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_decisions_total",
			Help:      "Rate limit admission decisions by source and outcome.",
		}, []string{"source", "outcome"}),
		storeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_store_errors_total",
			Help:      "Shared rate limit store failures.",
		}),
		breakerOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ratelimit_breaker_open",
			Help:      "1 while the rate limit store circuit breaker is open.",
		}),
		dlqSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dlq_size",
			Help:      "Messages held by the dead letter store.",
		}),
	}

	var errs []error
	p.scheduled = registerAs(reg, p.scheduled, &errs)
	p.completed = registerAs(reg, p.completed, &errs)
	p.failed = registerAs(reg, p.failed, &errs)
	p.deadLettered = registerAs(reg, p.deadLettered, &errs)
	p.duration = registerAs(reg, p.duration, &errs)
	p.inFlight = registerAs(reg, p.inFlight, &errs)
	p.decisions = registerAs(reg, p.decisions, &errs)
	p.storeErrors = registerAs(reg, p.storeErrors, &errs)
	p.breakerOpen = registerAs(reg, p.breakerOpen, &errs)
	p.dlqSize = registerAs(reg, p.dlqSize, &errs)
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("metrics: register collectors: %w", err)
	}

	return p, nil
}

// registerAs registers c on reg. When an identical collector is already
// registered, the existing one is returned instead.
func registerAs[T prometheus.Collector](reg prometheus.Registerer, c T, errs *[]error) T {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing
		}
	}
	*errs = append(*errs, err)
	return c
}

func (p *Prometheus) JobScheduled(queue, jobType string) {
	p.scheduled.WithLabelValues(queue, jobType).Inc()
}

func (p *Prometheus) JobCompleted(queue, jobType string, d time.Duration) {
	p.completed.WithLabelValues(queue, jobType).Inc()
	p.duration.WithLabelValues(queue, jobType).Observe(d.Seconds())
}

func (p *Prometheus) JobFailed(queue, jobType, reason string, d time.Duration) {
	p.failed.WithLabelValues(queue, jobType, reason).Inc()
	if d > 0 {
		p.duration.WithLabelValues(queue, jobType).Observe(d.Seconds())
	}
}

func (p *Prometheus) JobDeadLettered(queue, jobType string) {
	p.deadLettered.WithLabelValues(queue, jobType).Inc()
}

func (p *Prometheus) JobsInFlight(queue string, delta int) {
	p.inFlight.WithLabelValues(queue).Add(float64(delta))
}

func (p *Prometheus) RateLimitDecision(source string, allowed bool) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	p.decisions.WithLabelValues(source, outcome).Inc()
}

func (p *Prometheus) RateLimitStoreError() {
	p.storeErrors.Inc()
}

func (p *Prometheus) BreakerOpen(open bool) {
	if open {
		p.breakerOpen.Set(1)
		return
	}
	p.breakerOpen.Set(0)
}

func (p *Prometheus) DLQSize(n int64) {
	p.dlqSize.Set(float64(n))
}

var _ Recorder = (*Prometheus)(nil)
