package observability_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/kamiazya/scopes/pkg/observability"
)

func TestMetricsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("test")

	metrics, err := observability.New(meter)
	require.NoError(t, err)

	ctx := context.Background()
	metrics.RecordSkipped(ctx, 2)
	metrics.ConflictDetected(ctx, "concurrent-modification")
	metrics.ConflictResolved(ctx, "last-write-wins")
	metrics.SyncBatch(ctx, "push", 5)
	metrics.CommandRetry(ctx, "scope.rename")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	sums := map[string]int64{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
			total := int64(0)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			sums[m.Name] = total
		}
	}

	assert.Equal(t, int64(2), sums["scopes.store.skipped_records"])
	assert.Equal(t, int64(1), sums["scopes.sync.conflicts_detected"])
	assert.Equal(t, int64(1), sums["scopes.sync.conflicts_resolved"])
	assert.Equal(t, int64(1), sums["scopes.sync.batches"])
	assert.Equal(t, int64(5), sums["scopes.sync.events"])
	assert.Equal(t, int64(1), sums["scopes.command.retries"])
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *observability.Metrics
	metrics.RecordSkipped(context.Background(), 1)
	metrics.ConflictDetected(context.Background(), "x")
	metrics.CommandRetry(context.Background(), "y")
}
