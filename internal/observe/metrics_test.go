package observe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp)
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func TestRecordColdStartIncrementsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordColdStart(ctx, "text_to_text", "llama-3-8b", "ok")
	m.RecordColdStart(ctx, "text_to_text", "llama-3-8b", "ok")

	rm := collect(t, reader)
	data, ok := findMetric(rm, "pool.cold_starts")
	require.True(t, ok)

	sum := data.Data.(metricdata.Sum[int64])
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)
}

func TestRecordWorkerSpawnedAndDeathTrackActiveWorkers(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordWorkerSpawned(ctx, "vision", "echo-v1")
	m.RecordWorkerSpawned(ctx, "vision", "echo-v1")
	m.RecordWorkerDeath(ctx, "vision", "echo-v1", "panic")

	rm := collect(t, reader)
	active, ok := findMetric(rm, "pool.active_workers")
	require.True(t, ok)
	gauge := active.Data.(metricdata.Sum[int64])
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(1), gauge.DataPoints[0].Value)

	deaths, ok := findMetric(rm, "pool.worker_deaths")
	require.True(t, ok)
	deathSum := deaths.Data.(metricdata.Sum[int64])
	assert.Equal(t, int64(1), deathSum.DataPoints[0].Value)
}

func TestSetReservedMemoryMBRecordsDelta(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.SetReservedMemoryMB(ctx, "text_to_text", 512, 0)
	m.SetReservedMemoryMB(ctx, "text_to_text", 768, 512)

	rm := collect(t, reader)
	data, ok := findMetric(rm, "pool.reserved_memory_mb")
	require.True(t, ok)
	sum := data.Data.(metricdata.Sum[int64])
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(768), sum.DataPoints[0].Value)
}

func TestSetReservedMemoryMBNoOpWhenUnchanged(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.SetReservedMemoryMB(ctx, "vision", 256, 256)

	rm := collect(t, reader)
	_, ok := findMetric(rm, "pool.reserved_memory_mb")
	assert.False(t, ok)
}
