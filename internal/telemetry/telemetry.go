// Package telemetry installs the OpenTelemetry SDK providers used by the
// worker service. Metrics are kept in a manual reader and read on demand;
// spans are written by the stdout exporter.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// ErrMetricsDisabled is returned by Snapshot when metrics are off
var ErrMetricsDisabled = errors.New("metrics collection is disabled")

// Config selects which providers are installed
type Config struct {
	ServiceName string
	Metrics     bool
	Tracing     bool
	// TraceWriter receives exported spans
	TraceWriter io.Writer
}

// Provider owns the SDK providers. A disabled signal returns nil from
// Meter or Tracer so callers fall back to the global noop providers.
type Provider struct {
	reader         *sdkmetric.ManualReader
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
}

// Point is one metric data point flattened for JSON output
type Point struct {
	Name       string            `json:"name"`
	Unit       string            `json:"unit,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Value      *float64          `json:"value,omitempty"`
	Count      *uint64           `json:"count,omitempty"`
	Sum        *float64          `json:"sum,omitempty"`
}

// New creates the providers enabled in cfg
func New(cfg Config) (*Provider, error) {
	res := resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))
	p := &Provider{}

	if cfg.Metrics {
		p.reader = sdkmetric.NewManualReader()
		p.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(p.reader),
			sdkmetric.WithResource(res),
		)
	}

	if cfg.Tracing {
		if cfg.TraceWriter == nil {
			return nil, fmt.Errorf("telemetry: trace writer is required")
		}
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(cfg.TraceWriter))
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		p.tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
	}

	return p, nil
}

// Meter returns a meter for the scope, or nil when metrics are off
func (p *Provider) Meter(scope string) metric.Meter {
	if p.meterProvider == nil {
		return nil
	}
	return p.meterProvider.Meter(scope)
}

// Tracer returns a tracer for the scope, or nil when tracing is off
func (p *Provider) Tracer(scope string) trace.Tracer {
	if p.tracerProvider == nil {
		return nil
	}
	return p.tracerProvider.Tracer(scope)
}

// Snapshot collects the current metric values
func (p *Provider) Snapshot(ctx context.Context) ([]Point, error) {
	if p.reader == nil {
		return nil, ErrMetricsDisabled
	}

	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("failed to collect metrics: %w", err)
	}

	var points []Point
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			points = append(points, flatten(m)...)
		}
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Name < points[j].Name })
	return points, nil
}

// Shutdown flushes pending spans and stops the providers
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.tracerProvider != nil {
		errs = append(errs, p.tracerProvider.Shutdown(ctx))
	}
	if p.meterProvider != nil {
		errs = append(errs, p.meterProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

func flatten(m metricdata.Metrics) []Point {
	switch data := m.Data.(type) {
	case metricdata.Sum[int64]:
		return valuePoints(m, data.DataPoints)
	case metricdata.Sum[float64]:
		return valuePoints(m, data.DataPoints)
	case metricdata.Gauge[int64]:
		return valuePoints(m, data.DataPoints)
	case metricdata.Gauge[float64]:
		return valuePoints(m, data.DataPoints)
	case metricdata.Histogram[int64]:
		return histogramPoints(m, data.DataPoints)
	case metricdata.Histogram[float64]:
		return histogramPoints(m, data.DataPoints)
	default:
		return nil
	}
}

func valuePoints[N int64 | float64](m metricdata.Metrics, dps []metricdata.DataPoint[N]) []Point {
	points := make([]Point, 0, len(dps))
	for _, dp := range dps {
		v := float64(dp.Value)
		points = append(points, Point{
			Name:       m.Name,
			Unit:       m.Unit,
			Attributes: attributes(dp.Attributes),
			Value:      &v,
		})
	}
	return points
}

func histogramPoints[N int64 | float64](m metricdata.Metrics, dps []metricdata.HistogramDataPoint[N]) []Point {
	points := make([]Point, 0, len(dps))
	for _, dp := range dps {
		count := dp.Count
		sum := float64(dp.Sum)
		points = append(points, Point{
			Name:       m.Name,
			Unit:       m.Unit,
			Attributes: attributes(dp.Attributes),
			Count:      &count,
			Sum:        &sum,
		})
	}
	return points
}

func attributes(set attribute.Set) map[string]string {
	if set.Len() == 0 {
		return nil
	}
	out := make(map[string]string, set.Len())
	iter := set.Iter()
	for iter.Next() {
		kv := iter.Attribute()
		out[string(kv.Key)] = kv.Value.Emit()
	}
	return out
}
