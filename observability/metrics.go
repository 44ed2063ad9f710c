package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics bundles the instruments the orchestrator records against: job
// outcomes, attempt durations, retries, and the live-job gauge.
type Metrics struct {
	jobsTotal    metric.Int64Counter
	jobsActive   metric.Int64UpDownCounter
	jobDuration  metric.Float64Histogram
	retriesTotal metric.Int64Counter
}

// NewMetrics creates the orchestrator instruments on the global meter
// provider. Instrument creation failures are reported once; the zero-value
// instruments are still usable.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(tracerName)

	jobsTotal, err := meter.Int64Counter("scribe.jobs.total",
		metric.WithDescription("Transcription jobs by provider and terminal status"))
	if err != nil {
		return nil, err
	}
	jobsActive, err := meter.Int64UpDownCounter("scribe.jobs.active",
		metric.WithDescription("Transcription jobs currently in flight"))
	if err != nil {
		return nil, err
	}
	jobDuration, err := meter.Float64Histogram("scribe.job.duration",
		metric.WithDescription("Wall-clock duration of one job attempt"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	retriesTotal, err := meter.Int64Counter("scribe.retries.total",
		metric.WithDescription("Retry attempts by provider"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		jobsTotal:    jobsTotal,
		jobsActive:   jobsActive,
		jobDuration:  jobDuration,
		retriesTotal: retriesTotal,
	}, nil
}

// JobStarted records a job entering flight.
func (m *Metrics) JobStarted(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.jobsActive.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrProvider, provider)))
}

// JobFinished records a job leaving flight with its terminal status and
// attempt duration.
func (m *Metrics) JobFinished(ctx context.Context, provider, status string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrProvider, provider),
		attribute.String(AttrStatus, status),
	)
	m.jobsActive.Add(ctx, -1, metric.WithAttributes(attribute.String(AttrProvider, provider)))
	m.jobsTotal.Add(ctx, 1, attrs)
	m.jobDuration.Record(ctx, d.Seconds(), attrs)
}

// RetryRequested records one retry attempt.
func (m *Metrics) RetryRequested(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.retriesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrProvider, provider)))
}
