package aggregate

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	outcomeCreated  = "created"
	outcomeAppended = "appended"
	outcomeRejected = "rejected"
)

// storeMetrics holds the OpenTelemetry instruments of a Store.
type storeMetrics struct {
	// reported counts Report calls by producer, class and outcome
	reported metric.Int64Counter

	// openGroups tracks the number of groups currently held
	openGroups metric.Int64UpDownCounter
}

func initMetrics(meter metric.Meter) (*storeMetrics, error) {
	m := &storeMetrics{}
	var err error

	m.reported, err = meter.Int64Counter(
		"aggregate.findings.reported",
		metric.WithDescription("Findings passed to Report, by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create reported counter: %w", err)
	}

	m.openGroups, err = meter.Int64UpDownCounter(
		"aggregate.groups.open",
		metric.WithDescription("Finding groups held by the store"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create open groups counter: %w", err)
	}

	return m, nil
}

func (m *storeMetrics) recordReport(ctx context.Context, producer, className, outcome string, created bool) {
	m.reported.Add(ctx, 1, metric.WithAttributes(
		attribute.String("producer", producer),
		attribute.String("class", className),
		attribute.String("outcome", outcome),
	))
	if created {
		m.openGroups.Add(ctx, 1)
	}
}

func (m *storeMetrics) recordCleared(ctx context.Context, removed int) {
	if removed > 0 {
		m.openGroups.Add(ctx, int64(-removed))
	}
}

func (m *storeMetrics) recordRestored(ctx context.Context, restored int) {
	if restored > 0 {
		m.openGroups.Add(ctx, int64(restored))
	}
}
