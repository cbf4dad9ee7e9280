package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/offerbook/dedup/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zaptest"
)

func disabledMetricsConfig() telemetry.MetricsConfig {
	return telemetry.MetricsConfig{
		Enabled:           false,
		CollectorEndpoint: "localhost:4317",
		ServiceName:       "dedupd-test",
	}
}

// collectingMeter returns a meter whose recordings can be read back through
// the manual reader.
func collectingMeter(t *testing.T) (metric.Meter, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
	})
	return provider.Meter("dedupd-test"), reader
}

// singleMetric collects and returns the only metric recorded so far.
func singleMetric(t *testing.T, reader *sdkmetric.ManualReader) metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	require.Len(t, rm.ScopeMetrics[0].Metrics, 1)
	return rm.ScopeMetrics[0].Metrics[0]
}

func TestNewMeterProvider_DisabledIsNoop(t *testing.T) {
	ctx := context.Background()

	mp, err := telemetry.NewMeterProvider(ctx, disabledMetricsConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, mp)

	assert.False(t, mp.IsEnabled())
	assert.NotNil(t, mp.Meter("dedupd"))
	assert.NoError(t, mp.Shutdown(ctx))
}

func TestMeterProvider_ShutdownWithCancelledContext(t *testing.T) {
	mp, err := telemetry.NewMeterProvider(context.Background(), disabledMetricsConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, mp.Shutdown(cancelled))
}

func TestCounter_AccumulatesPerAttributeSet(t *testing.T) {
	ctx := context.Background()
	meter, reader := collectingMeter(t)

	counter, err := telemetry.NewCounter(meter, "dedup_batches_total", "Processed batch count", "{batches}")
	require.NoError(t, err)

	counter.Inc(ctx, telemetry.AttrChannel.String("bank_feed"))
	counter.Add(ctx, 3, telemetry.AttrChannel.String("bank_feed"))
	counter.Inc(ctx, telemetry.AttrChannel.String("partner_api"))

	m := singleMetric(t, reader)
	assert.Equal(t, "dedup_batches_total", m.Name)

	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 2)

	byChannel := make(map[string]int64, len(sum.DataPoints))
	for _, dp := range sum.DataPoints {
		ch, _ := dp.Attributes.Value(attribute.Key("channel"))
		byChannel[ch.AsString()] = dp.Value
	}
	assert.Equal(t, int64(4), byChannel["bank_feed"])
	assert.Equal(t, int64(1), byChannel["partner_api"])
}

func TestHistogram_UsesConfiguredBoundaries(t *testing.T) {
	ctx := context.Background()
	meter, reader := collectingMeter(t)

	histogram, err := telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        "dedup_batch_duration_seconds",
		Description: "End-to-end batch processing duration",
		Unit:        "s",
		Boundaries:  telemetry.BatchDurationBuckets,
	})
	require.NoError(t, err)

	histogram.Record(ctx, 0.5, telemetry.AttrChannel.String("bank_feed"))
	histogram.Record(ctx, 60.0, telemetry.AttrChannel.String("bank_feed"))

	m := singleMetric(t, reader)
	hist, ok := m.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)

	dp := hist.DataPoints[0]
	assert.Equal(t, telemetry.BatchDurationBuckets, dp.Bounds)
	assert.Equal(t, uint64(2), dp.Count)
	assert.InDelta(t, 60.5, dp.Sum, 1e-9)
}

func TestHistogram_RecordDurationInSeconds(t *testing.T) {
	ctx := context.Background()
	meter, reader := collectingMeter(t)

	histogram, err := telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        "db_query_duration_seconds",
		Description: "Query duration",
		Unit:        "s",
		Boundaries:  telemetry.DBDurationBuckets,
	})
	require.NoError(t, err)

	histogram.RecordDuration(ctx, 1500*time.Millisecond)

	m := singleMetric(t, reader)
	hist, ok := m.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.InDelta(t, 1.5, hist.DataPoints[0].Sum, 1e-9)
}

func TestGauge_KeepsLastValue(t *testing.T) {
	ctx := context.Background()
	meter, reader := collectingMeter(t)

	gauge, err := telemetry.NewGauge(meter, "dedup_intake_backlog", "Staged batches awaiting processing", "{batches}")
	require.NoError(t, err)

	gauge.Record(ctx, 12, telemetry.AttrBatchStatus.String("staged"))
	gauge.Record(ctx, 7, telemetry.AttrBatchStatus.String("staged"))

	m := singleMetric(t, reader)
	g, ok := m.Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, g.DataPoints, 1)
	assert.Equal(t, int64(7), g.DataPoints[0].Value)
}

func TestSharedAttributeKeys_StableNames(t *testing.T) {
	// Dashboards key off these names; renaming one silently breaks panels.
	assert.Equal(t, "db.operation", string(telemetry.AttrDBOperation))
	assert.Equal(t, "db.table", string(telemetry.AttrDBTable))
	assert.Equal(t, "db.pool.state", string(telemetry.AttrDBState))
	assert.Equal(t, "channel", string(telemetry.AttrChannel))
	assert.Equal(t, "batch_status", string(telemetry.AttrBatchStatus))
	assert.Equal(t, "outcome", string(telemetry.AttrOutcome))
}
