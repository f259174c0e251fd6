package order

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/xenking/distributor-api/internal/domain/order"

// Placement outcomes recorded on the orders.placements counter.
const (
	outcomePlaced   = "placed"
	outcomeReplayed = "replayed"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
)

type telemetry struct {
	tracer     trace.Tracer
	placements metric.Int64Counter
	lines      metric.Int64Counter
	duration   metric.Float64Histogram
}

func newTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) *telemetry {
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	t := &telemetry{tracer: tp.Tracer(instrumentationName)}

	var err error
	if t.placements, err = meter.Int64Counter("orders.placements",
		metric.WithDescription("Order placement attempts by outcome"),
	); err != nil {
		t.placements = metricnoop.Int64Counter{}
	}
	if t.lines, err = meter.Int64Counter("orders.lines",
		metric.WithDescription("Order lines committed"),
	); err != nil {
		t.lines = metricnoop.Int64Counter{}
	}
	if t.duration, err = meter.Float64Histogram("orders.placement.duration",
		metric.WithDescription("Order placement latency"),
		metric.WithUnit("s"),
	); err != nil {
		t.duration = metricnoop.Float64Histogram{}
	}
	return t
}

func (t *telemetry) recordPlacement(ctx context.Context, outcome string, start time.Time, lines int) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	t.placements.Add(ctx, 1, attrs)
	t.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	if outcome == outcomePlaced {
		t.lines.Add(ctx, int64(lines))
	}
}
