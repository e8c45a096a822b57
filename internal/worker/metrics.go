package worker

import (
	"context"
	"time"

	"github.com/cuongbtq/jobworker/internal/worker/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationScope names the worker's meter and tracer
const InstrumentationScope = "github.com/cuongbtq/jobworker/internal/worker"

// metrics records engine instruments. When no MeterProvider is configured
// the global noop provider makes every call a no-op.
//
// Instruments:
//   - jobworker.activation.requests (counter): activation calls, status ok|error
//   - jobworker.jobs.activated (counter): jobs received from the broker
//   - jobworker.jobs.inflight (up/down counter): dispatched jobs not yet finished
//   - jobworker.handler.duration (histogram, s): handler time, outcome complete|fail|unhandled
//   - jobworker.jobs.reported (counter): report attempts, op and status ok|error|dropped
type metrics struct {
	activations     metric.Int64Counter
	activated       metric.Int64Counter
	inflight        metric.Int64UpDownCounter
	handlerDuration metric.Float64Histogram
	reported        metric.Int64Counter

	base []attribute.KeyValue
}

func newMetrics(meter metric.Meter, jobType, workerName string) *metrics {
	if meter == nil {
		meter = otel.Meter(InstrumentationScope)
	}

	// On error the API returns noop instruments, so errors are ignored.
	activations, _ := meter.Int64Counter(
		"jobworker.activation.requests",
		metric.WithDescription("Number of ActivateJobs calls"),
		metric.WithUnit("{request}"),
	)
	activated, _ := meter.Int64Counter(
		"jobworker.jobs.activated",
		metric.WithDescription("Number of jobs leased from the broker"),
		metric.WithUnit("{job}"),
	)
	inflight, _ := meter.Int64UpDownCounter(
		"jobworker.jobs.inflight",
		metric.WithDescription("Number of dispatched jobs not yet finished"),
		metric.WithUnit("{job}"),
	)
	handlerDuration, _ := meter.Float64Histogram(
		"jobworker.handler.duration",
		metric.WithDescription("Duration of job handler execution in seconds"),
		metric.WithUnit("s"),
	)
	reported, _ := meter.Int64Counter(
		"jobworker.jobs.reported",
		metric.WithDescription("Number of job outcome report attempts"),
		metric.WithUnit("{job}"),
	)

	return &metrics{
		activations:     activations,
		activated:       activated,
		inflight:        inflight,
		handlerDuration: handlerDuration,
		reported:        reported,
		base: []attribute.KeyValue{
			attribute.String("job_type", jobType),
			attribute.String("worker", workerName),
		},
	}
}

func (m *metrics) attrs(extra ...attribute.KeyValue) metric.MeasurementOption {
	kv := make([]attribute.KeyValue, 0, len(m.base)+len(extra))
	kv = append(kv, m.base...)
	kv = append(kv, extra...)
	return metric.WithAttributes(kv...)
}

func (m *metrics) activationFinished(ctx context.Context, received int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.activations.Add(ctx, 1, m.attrs(attribute.String("status", status)))
	if received > 0 {
		m.activated.Add(ctx, int64(received), m.attrs())
	}
}

func (m *metrics) jobDispatched(_ *domain.Job) {
	m.inflight.Add(context.Background(), 1, m.attrs())
}

func (m *metrics) jobFinished(_ *domain.Job) {
	m.inflight.Add(context.Background(), -1, m.attrs())
}

func (m *metrics) handlerFinished(ctx context.Context, elapsed time.Duration, kind domain.OutcomeKind) {
	m.handlerDuration.Record(ctx, elapsed.Seconds(), m.attrs(attribute.String("outcome", kind.String())))
}

func (m *metrics) jobReported(ctx context.Context, rep Report) {
	status := "ok"
	switch {
	case rep.Dropped():
		status = "dropped"
	case rep.Err != nil:
		status = "error"
	}
	m.reported.Add(ctx, 1, m.attrs(
		attribute.String("op", string(rep.Op)),
		attribute.String("outcome", rep.Outcome.Kind.String()),
		attribute.String("status", status),
	))
}
