// Package observe provides the pool's OpenTelemetry metrics: per-capability
// worker gauges, memory reservation, dispatch latency, and cold-start
// outcomes, exported via a Prometheus bridge so they can be scraped from
// /v1/metrics the same way the teacher's health endpoints are scraped.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/bhangun/wayang-inference/pool"

// latencyBuckets is tuned for inference dispatch latency rather than
// typical HTTP-handler latency: cold starts can take tens of seconds.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// Metrics holds every OpenTelemetry instrument the pool and registry
// record against. All fields are safe for concurrent use.
type Metrics struct {
	// DispatchDuration is a histogram for wall time from Dispatch call to
	// first chunk, tagged by capability and registry_key. The pool does not
	// record into it.
	DispatchDuration metric.Float64Histogram

	// ColdStarts counts cold-start attempts, tagged by capability,
	// registry_key, and status (ok, memory_exhausted, load_failed).
	ColdStarts metric.Int64Counter

	// WorkersSpawned counts individual worker spawns, tagged by capability
	// and registry_key.
	WorkersSpawned metric.Int64Counter

	// WorkerDeaths counts worker teardown events, tagged by capability,
	// registry_key, and reason (panic, shutdown).
	WorkerDeaths metric.Int64Counter

	// ActiveWorkers tracks the live worker count, tagged by capability and
	// registry_key.
	ActiveWorkers metric.Int64UpDownCounter

	// ReservedMemoryMB tracks reserved MiB, tagged by capability.
	ReservedMemoryMB metric.Int64UpDownCounter

	// DispatchErrors counts dispatch failures, tagged by capability and
	// error kind (shutdown, spawn_timeout, no_worker, memory_exhausted,
	// load_failed).
	DispatchErrors metric.Int64Counter
}

// NewMetrics creates a fully initialized Metrics struct against mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	if met.DispatchDuration, err = m.Float64Histogram("pool.dispatch.duration",
		metric.WithDescription("Wall time from Dispatch call to first chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ColdStarts, err = m.Int64Counter("pool.cold_starts",
		metric.WithDescription("Cold-start attempts by capability, registry key, and status."),
	); err != nil {
		return nil, err
	}
	if met.WorkersSpawned, err = m.Int64Counter("pool.workers_spawned",
		metric.WithDescription("Worker spawns by capability and registry key."),
	); err != nil {
		return nil, err
	}
	if met.WorkerDeaths, err = m.Int64Counter("pool.worker_deaths",
		metric.WithDescription("Worker teardown events by capability, registry key, and reason."),
	); err != nil {
		return nil, err
	}
	if met.ActiveWorkers, err = m.Int64UpDownCounter("pool.active_workers",
		metric.WithDescription("Live worker count by capability and registry key."),
	); err != nil {
		return nil, err
	}
	if met.ReservedMemoryMB, err = m.Int64UpDownCounter("pool.reserved_memory_mb",
		metric.WithDescription("Reserved memory in MiB by capability."),
		metric.WithUnit("MiB"),
	); err != nil {
		return nil, err
	}
	if met.DispatchErrors, err = m.Int64Counter("pool.dispatch_errors",
		metric.WithDescription("Dispatch failures by capability and error kind."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level Metrics instance, built against
// otel.GetMeterProvider() on first call.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordColdStart records one cold-start outcome.
func (m *Metrics) RecordColdStart(ctx context.Context, capability, registryKey, status string) {
	m.ColdStarts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("capability", capability),
		attribute.String("registry_key", registryKey),
		attribute.String("status", status),
	))
}

// RecordWorkerSpawned records one successful worker spawn and bumps the
// active-worker gauge.
func (m *Metrics) RecordWorkerSpawned(ctx context.Context, capability, registryKey string) {
	attrs := metric.WithAttributes(
		attribute.String("capability", capability),
		attribute.String("registry_key", registryKey),
	)
	m.WorkersSpawned.Add(ctx, 1, attrs)
	m.ActiveWorkers.Add(ctx, 1, attrs)
}

// RecordWorkerDeath records one worker teardown and drops the
// active-worker gauge.
func (m *Metrics) RecordWorkerDeath(ctx context.Context, capability, registryKey, reason string) {
	m.WorkerDeaths.Add(ctx, 1, metric.WithAttributes(
		attribute.String("capability", capability),
		attribute.String("registry_key", registryKey),
		attribute.String("reason", reason),
	))
	m.ActiveWorkers.Add(ctx, -1, metric.WithAttributes(
		attribute.String("capability", capability),
		attribute.String("registry_key", registryKey),
	))
}

// RecordDispatchError records one dispatch-time failure.
func (m *Metrics) RecordDispatchError(ctx context.Context, capability, kind string) {
	m.DispatchErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("capability", capability),
		attribute.String("kind", kind),
	))
}

// SetReservedMemoryMB reports the accountant's current reservation for
// capability as an absolute value by resetting the gauge delta.
func (m *Metrics) SetReservedMemoryMB(ctx context.Context, capability string, mb int64, prevMB int64) {
	if delta := mb - prevMB; delta != 0 {
		m.ReservedMemoryMB.Add(ctx, delta, metric.WithAttributes(attribute.String("capability", capability)))
	}
}
