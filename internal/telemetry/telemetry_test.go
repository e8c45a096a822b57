package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func findPoint(points []Point, name string) *Point {
	for i := range points {
		if points[i].Name == name {
			return &points[i]
		}
	}
	return nil
}

func TestProvider_Metrics(t *testing.T) {
	p, err := New(Config{ServiceName: "worker-service", Metrics: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	meter := p.Meter("test")
	require.NotNil(t, meter)
	assert.Nil(t, p.Tracer("test"))

	counter, err := meter.Int64Counter("jobs.completed")
	require.NoError(t, err)
	counter.Add(context.Background(), 2, metric.WithAttributes(attribute.String("job_type", "payment")))
	counter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("job_type", "payment")))

	hist, err := meter.Float64Histogram("handler.duration", metric.WithUnit("s"))
	require.NoError(t, err)
	hist.Record(context.Background(), 0.5)
	hist.Record(context.Background(), 1.5)

	points, err := p.Snapshot(context.Background())
	require.NoError(t, err)

	completed := findPoint(points, "jobs.completed")
	require.NotNil(t, completed)
	require.NotNil(t, completed.Value)
	assert.Equal(t, 3.0, *completed.Value)
	assert.Equal(t, map[string]string{"job_type": "payment"}, completed.Attributes)

	duration := findPoint(points, "handler.duration")
	require.NotNil(t, duration)
	require.NotNil(t, duration.Count)
	require.NotNil(t, duration.Sum)
	assert.Equal(t, uint64(2), *duration.Count)
	assert.Equal(t, 2.0, *duration.Sum)
	assert.Equal(t, "s", duration.Unit)
}

func TestProvider_Disabled(t *testing.T) {
	p, err := New(Config{ServiceName: "worker-service"})
	require.NoError(t, err)

	assert.Nil(t, p.Meter("test"))
	assert.Nil(t, p.Tracer("test"))

	_, err = p.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrMetricsDisabled)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestProvider_Tracing(t *testing.T) {
	var out bytes.Buffer
	p, err := New(Config{ServiceName: "worker-service", Tracing: true, TraceWriter: &out})
	require.NoError(t, err)

	tracer := p.Tracer("test")
	require.NotNil(t, tracer)

	_, span := tracer.Start(context.Background(), "jobworker.job.execute")
	span.End()

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Contains(t, out.String(), "jobworker.job.execute")
	assert.Contains(t, out.String(), "worker-service")
}

func TestProvider_TracingRequiresWriter(t *testing.T) {
	_, err := New(Config{Tracing: true})
	assert.Error(t, err)
}
