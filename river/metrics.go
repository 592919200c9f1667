package river

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/cert-lv/neo4j-river/river"

type metrics struct {
	applied metric.Int64Counter
	skipped metric.Int64Counter
	failed  metric.Int64Counter
	attrs   metric.MeasurementOption
}

func newMetrics(provider metric.MeterProvider, river string) (*metrics, error) {
	meter := provider.Meter(meterName)

	applied, err := meter.Int64Counter("river.records.applied",
		metric.WithDescription("Change records committed into the index"),
		metric.WithUnit("{record}"))
	if err != nil {
		return nil, err
	}

	skipped, err := meter.Int64Counter("river.records.skipped",
		metric.WithDescription("Change records skipped because they can't be translated or stored"),
		metric.WithUnit("{record}"))
	if err != nil {
		return nil, err
	}

	failed, err := meter.Int64Counter("river.cycles.failed",
		metric.WithDescription("Poll cycles that ended in a backoff"),
		metric.WithUnit("{cycle}"))
	if err != nil {
		return nil, err
	}

	return &metrics{
		applied: applied,
		skipped: skipped,
		failed:  failed,
		attrs:   metric.WithAttributes(attribute.String("river", river)),
	}, nil
}

func (m *metrics) recordApplied(ctx context.Context, n int) {
	if n > 0 {
		m.applied.Add(ctx, int64(n), m.attrs)
	}
}

func (m *metrics) recordSkipped(ctx context.Context, n int) {
	if n > 0 {
		m.skipped.Add(ctx, int64(n), m.attrs)
	}
}

func (m *metrics) recordFailure(ctx context.Context) {
	m.failed.Add(ctx, 1, m.attrs)
}
