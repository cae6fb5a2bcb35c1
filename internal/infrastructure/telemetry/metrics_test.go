package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/erp/procurement/internal/infrastructure/config"
	"github.com/erp/procurement/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zaptest"
)

// newManualMeter returns a meter whose instruments can be collected on demand
func newManualMeter(t *testing.T) (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return reader, mp
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

// sumFor returns the counter value recorded with exactly attrs
func sumFor(t *testing.T, m metricdata.Metrics, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	want := attribute.NewSet(attrs...)
	for _, dp := range sum.DataPoints {
		if dp.Attributes.Equals(&want) {
			return dp.Value
		}
	}
	return 0
}

func TestNewMeterProvider_Disabled(t *testing.T) {
	ctx := context.Background()
	cfg := config.TelemetryConfig{
		Enabled:         false,
		MetricsInterval: 60 * time.Second,
		ServiceName:     "test-service",
	}

	mp, err := telemetry.NewMeterProvider(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, mp)

	assert.NotNil(t, mp.Meter("test"))
	assert.NoError(t, mp.Shutdown(ctx))
}

func TestCounter(t *testing.T) {
	reader, mp := newManualMeter(t)
	meter := mp.Meter("test")

	c, err := telemetry.NewCounter(meter, "writes_total", "Writes", "{write}")
	require.NoError(t, err)

	ctx := context.Background()
	c.Inc(ctx, attribute.String("op", "set"))
	c.Add(ctx, 4, attribute.String("op", "set"))
	c.Inc(ctx, attribute.String("op", "delete"))

	metrics := collect(t, reader)
	require.Contains(t, metrics, "writes_total")
	assert.Equal(t, int64(5), sumFor(t, metrics["writes_total"], attribute.String("op", "set")))
	assert.Equal(t, int64(1), sumFor(t, metrics["writes_total"], attribute.String("op", "delete")))
}

func TestHistogram(t *testing.T) {
	reader, mp := newManualMeter(t)
	meter := mp.Meter("test")

	h, err := telemetry.NewHistogram(meter, "op_duration_seconds", "Duration", "s", telemetry.SmallDurationBuckets...)
	require.NoError(t, err)

	h.RecordDuration(context.Background(), 20*time.Millisecond)
	h.RecordDuration(context.Background(), 2*time.Second)

	metrics := collect(t, reader)
	hist, ok := metrics["op_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
	assert.Equal(t, telemetry.SmallDurationBuckets, hist.DataPoints[0].Bounds)
}
