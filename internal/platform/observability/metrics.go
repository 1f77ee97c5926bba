package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/nax-handle/crm-backend"

// Metrics holds the instruments recorded by the order and analytics services.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	transitions metric.Int64Counter
	analytics   metric.Float64Histogram
}

// NewMetrics registers instruments on the provided meter, or the global meter provider when nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	transitions, err := meter.Int64Counter(
		"crm.order.status_transitions",
		metric.WithDescription("Order status transition attempts by outcome."),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: register transition counter: %w", err)
	}
	analytics, err := meter.Float64Histogram(
		"crm.analytics.duration",
		metric.WithDescription("Latency of analytics aggregations."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: register analytics histogram: %w", err)
	}
	return &Metrics{transitions: transitions, analytics: analytics}, nil
}

// RecordTransition counts one transition attempt.
func (m *Metrics) RecordTransition(ctx context.Context, from, to, outcome string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
		attribute.String("outcome", outcome),
	))
}

// RecordAnalytics records how long an aggregation took.
func (m *Metrics) RecordAnalytics(ctx context.Context, operation, rangeToken, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.analytics.Record(ctx, float64(elapsed)/float64(time.Millisecond), metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("range", rangeToken),
		attribute.String("outcome", outcome),
	))
}
