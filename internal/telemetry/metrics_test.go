package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNewSyncMetrics(t *testing.T) {
	t.Parallel()

	t.Run("returns nil when provider is nil", func(t *testing.T) {
		t.Parallel()

		metrics, err := NewSyncMetrics(nil)
		require.NoError(t, err)
		assert.Nil(t, metrics)
	})

	t.Run("creates metrics with SDK provider", func(t *testing.T) {
		t.Parallel()

		mp := sdkmetric.NewMeterProvider()
		defer func() { _ = mp.Shutdown(context.Background()) }()

		metrics, err := NewSyncMetrics(mp)
		require.NoError(t, err)
		assert.NotNil(t, metrics)
		assert.NotNil(t, metrics.documentsTotal)
		assert.NotNil(t, metrics.runDuration)
	})
}

func TestSyncMetrics_RecordDocument(t *testing.T) {
	t.Parallel()

	t.Run("no-op when metrics is nil", func(t *testing.T) {
		t.Parallel()

		var metrics *SyncMetrics
		// Should not panic
		metrics.RecordDocument(context.Background(), "create", true)
	})

	t.Run("records documents with action and outcome attributes", func(t *testing.T) {
		t.Parallel()

		reader := sdkmetric.NewManualReader()
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		defer func() { _ = mp.Shutdown(context.Background()) }()

		metrics, err := NewSyncMetrics(mp)
		require.NoError(t, err)
		require.NotNil(t, metrics)

		metrics.RecordDocument(context.Background(), "create", true)
		metrics.RecordDocument(context.Background(), "update", true)
		metrics.RecordDocument(context.Background(), "update", false)

		var rm metricdata.ResourceMetrics
		err = reader.Collect(context.Background(), &rm)
		require.NoError(t, err)

		require.NotEmpty(t, rm.ScopeMetrics)

		var foundScope bool
		for _, scope := range rm.ScopeMetrics {
			if scope.Scope.Name == SyncMetricsMeterName {
				foundScope = true
				assert.NotEmpty(t, scope.Metrics)
			}
		}
		assert.True(t, foundScope, "expected to find sync metrics scope")
	})
}

func TestSyncMetrics_RecordRunDuration(t *testing.T) {
	t.Parallel()

	t.Run("no-op when metrics is nil", func(t *testing.T) {
		t.Parallel()

		var metrics *SyncMetrics
		// Should not panic
		metrics.RecordRunDuration(context.Background(), 5*time.Second, true)
	})

	t.Run("records run duration", func(t *testing.T) {
		t.Parallel()

		reader := sdkmetric.NewManualReader()
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		defer func() { _ = mp.Shutdown(context.Background()) }()

		metrics, err := NewSyncMetrics(mp)
		require.NoError(t, err)
		require.NotNil(t, metrics)

		metrics.RecordRunDuration(context.Background(), 2*time.Second, true)

		var rm metricdata.ResourceMetrics
		err = reader.Collect(context.Background(), &rm)
		require.NoError(t, err)
		require.NotEmpty(t, rm.ScopeMetrics)
	})
}
