package observability

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordTransition(context.Background(), "pending", "processing", "ok")
	m.RecordAnalytics(context.Background(), "overview", "", "ok", time.Second)
}

func TestNewMetricsWithNoopMeter(t *testing.T) {
	m, err := NewMetrics(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordTransition(context.Background(), "pending", "completed", "invalid_transition")
	m.RecordAnalytics(context.Background(), "revenue_series", "7d", "timeout", 5*time.Millisecond)
}
