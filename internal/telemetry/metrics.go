// Package telemetry provides OpenTelemetry instrumentation for sync runs.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SyncMetricsMeterName is the name used for the sync metrics meter
const SyncMetricsMeterName = "github.com/mhadocs/docsync/sync"

// SyncMetrics holds the OpenTelemetry instruments for sync run metrics
type SyncMetrics struct {
	documentsTotal metric.Int64Counter
	runDuration    metric.Float64Histogram
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	documentsTotal, err := meter.Int64Counter(
		"docsync_documents_total",
		metric.WithDescription("Documents processed per action and outcome"),
		metric.WithUnit("{document}"),
	)
	if err != nil {
		return nil, err
	}

	runDuration, err := meter.Float64Histogram(
		"docsync_run_duration_seconds",
		metric.WithDescription("Duration of sync runs in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		documentsTotal: documentsTotal,
		runDuration:    runDuration,
	}, nil
}

// RecordDocument counts one processed document by action and outcome
func (m *SyncMetrics) RecordDocument(ctx context.Context, action string, success bool) {
	if m == nil || m.documentsTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("action", action),
		attribute.Bool("success", success),
	}

	m.documentsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRunDuration records how long a sync run took
func (m *SyncMetrics) RecordRunDuration(ctx context.Context, duration time.Duration, success bool) {
	if m == nil || m.runDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.Bool("success", success),
	}

	m.runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}
