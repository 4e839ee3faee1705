package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bhangun/wayang-inference/internal/accountant"
	"github.com/bhangun/wayang-inference/internal/observe"
	"github.com/bhangun/wayang-inference/internal/stream"
	"github.com/bhangun/wayang-inference/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// testReq/testChunk stand in for a capability's Request/Chunk types —
// the pool is generic and capability-agnostic, so these minimal fixtures
// exercise the same contract every real capability wrapper relies on.
type testReq struct {
	tokens  int
	pauseCh <-chan struct{} // optional: blocks the fake model until closed
}

type testChunk struct {
	text     string
	complete bool
	err      error
}

func errChunk(err error) testChunk { return testChunk{err: err} }

// fakeModel emits one chunk per token then a terminal chunk. If req.pauseCh
// is set, it blocks after the first chunk until that channel closes — used
// to simulate an in-flight request a test wants to hold open.
type fakeModel struct {
	loadDelay time.Duration
	failLoad  bool
	closed    atomic.Bool
}

func (m *fakeModel) Infer(ctx context.Context, req testReq, sink stream.Sender[testChunk]) {
	for i := 0; i < req.tokens; i++ {
		if !sink.Send(testChunk{text: fmt.Sprintf("tok%d", i)}) {
			return
		}
		if i == 0 && req.pauseCh != nil {
			<-req.pauseCh
		}
	}
	sink.Send(testChunk{complete: true})
}

func (m *fakeModel) Close() error {
	m.closed.Store(true)
	return nil
}

func fakeLoader(m *fakeModel) Loader[testReq, testChunk] {
	return func(ctx context.Context) (worker.Loaded[testReq, testChunk], error) {
		if m.loadDelay > 0 {
			time.Sleep(m.loadDelay)
		}
		if m.failLoad {
			return nil, errors.New("fake load failure")
		}
		return m, nil
	}
}

func newTestPool(totalSystemMB int64, cfg Config) *Pool[testReq, testChunk] {
	acct := accountant.NewWithTotalMB(totalSystemMB, 0.80)
	return New[testReq, testChunk]("test", cfg, acct, errChunk, nil, nil)
}

// S1 — cold-start with ample memory: expect exactly 2 workers, reserved ==
// 2x per-worker estimate, stream yields chunks then terminal.
func TestColdStartAmpleMemory(t *testing.T) {
	p := newTestPool(32*1024, DefaultConfig()) // 32 GiB
	m := &fakeModel{}

	s := p.Dispatch(context.Background(), "modelA", 1600, testReq{tokens: 1}, fakeLoader(m))
	chunks := s.Drain(context.Background())

	require.NotEmpty(t, chunks)
	assert.True(t, chunks[len(chunks)-1].complete)
	assert.Equal(t, 2, p.WorkerCount("modelA"))
	assert.Equal(t, int64(3200), p.TotalMemoryReservedMB())
}

// S2 — cold-start with tight memory: only 1 worker fits for modelA; a
// different registry key on the same pool/accountant with a tiny estimate
// still fits in the remaining headroom; a third model whose estimate
// exceeds what's left fails with memory-exhausted and leaves no workers
// behind.
func TestColdStartTightMemory(t *testing.T) {
	p := newTestPool(2500, DefaultConfig()) // cap = 2000 MiB
	m := &fakeModel{}

	s := p.Dispatch(context.Background(), "modelA", 1600, testReq{tokens: 1}, fakeLoader(m))
	s.Drain(context.Background())
	assert.Equal(t, 1, p.WorkerCount("modelA"))
	assert.Equal(t, int64(1600), p.TotalMemoryReservedMB())

	tiny := &fakeModel{}
	s2 := p.Dispatch(context.Background(), "modelB", 1, testReq{tokens: 1}, fakeLoader(tiny))
	chunks2 := s2.Drain(context.Background())
	require.NotEmpty(t, chunks2)
	assert.True(t, chunks2[len(chunks2)-1].complete)

	big := &fakeModel{}
	s3 := p.Dispatch(context.Background(), "modelC", 1000, testReq{tokens: 1}, fakeLoader(big))
	chunks3 := s3.Drain(context.Background())
	require.Len(t, chunks3, 1)
	require.Error(t, chunks3[0].err)
	assert.ErrorIs(t, chunks3[0].err, accountant.ErrMemoryExhausted)
	assert.Equal(t, 0, p.WorkerCount("modelC"))
}

// S3 — least-busy routing: a paused request holds W1 busy; the next
// request for the same key routes to the idle worker.
func TestLeastBusyRouting(t *testing.T) {
	p := newTestPool(32*1024, DefaultConfig())
	m := &fakeModel{}

	// Prime exactly 2 workers.
	s0 := p.Dispatch(context.Background(), "modelA", 1600, testReq{tokens: 1}, fakeLoader(m))
	s0.Drain(context.Background())
	require.Equal(t, 2, p.WorkerCount("modelA"))

	pause := make(chan struct{})
	streamA := p.Dispatch(context.Background(), "modelA", 1600, testReq{tokens: 2, pauseCh: pause}, fakeLoader(m))

	// Give the worker time to pick up A and block on the pause.
	require.Eventually(t, func() bool {
		return p.pendingTotal() >= 1
	}, time.Second, time.Millisecond)

	streamB := p.Dispatch(context.Background(), "modelA", 1600, testReq{tokens: 1}, fakeLoader(m))
	chunksB := streamB.Drain(context.Background())
	require.NotEmpty(t, chunksB)
	assert.True(t, chunksB[len(chunksB)-1].complete)

	close(pause)
	chunksA := streamA.Drain(context.Background())
	require.NotEmpty(t, chunksA)
	assert.True(t, chunksA[len(chunksA)-1].complete)
}

// S4 — cancellation: dropping the stream after a few chunks causes the
// worker to emit at most one more chunk, then return to idle; a
// subsequent request on the same pool succeeds.
func TestCancellationDropsCleanly(t *testing.T) {
	p := newTestPool(32*1024, DefaultConfig())
	m := &fakeModel{}

	s := p.Dispatch(context.Background(), "modelA", 1600, testReq{tokens: 1024}, fakeLoader(m))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, ok := s.Next(ctx)
		require.True(t, ok)
	}
	s.Close()

	require.Eventually(t, func() bool {
		return p.pendingTotal() == 0
	}, time.Second, time.Millisecond)

	s2 := p.Dispatch(context.Background(), "modelA", 1600, testReq{tokens: 1}, fakeLoader(m))
	chunks := s2.Drain(context.Background())
	require.NotEmpty(t, chunks)
	assert.True(t, chunks[len(chunks)-1].complete)
}

// S5 — concurrent cold-start race: 8 concurrent dispatches against a fresh
// pool with MaxWorkersPerModel=2 must produce exactly 2 workers, not 8.
func TestConcurrentColdStartRace(t *testing.T) {
	p := newTestPool(32*1024, DefaultConfig())
	m := &fakeModel{}

	var wg sync.WaitGroup
	results := make([][]testChunk, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := p.Dispatch(context.Background(), "modelA", 1600, testReq{tokens: 1}, fakeLoader(m))
			results[i] = s.Drain(context.Background())
		}(i)
	}
	wg.Wait()

	for _, chunks := range results {
		require.NotEmpty(t, chunks)
		assert.True(t, chunks[len(chunks)-1].complete)
	}
	assert.Equal(t, 2, p.WorkerCount("modelA"))
	assert.Equal(t, int64(3200), p.TotalMemoryReservedMB())
}

// S6 — shutdown drain: an in-flight request completes normally; new
// dispatches after shutdown begins receive the shutdown error chunk;
// BeginShutdown returns before its timeout once pending reaches zero.
func TestShutdownDrain(t *testing.T) {
	p := newTestPool(32*1024, DefaultConfig())
	m := &fakeModel{}

	pause := make(chan struct{})
	inFlight := p.Dispatch(context.Background(), "modelA", 1600, testReq{tokens: 2, pauseCh: pause}, fakeLoader(m))

	require.Eventually(t, func() bool {
		return p.pendingTotal() >= 1
	}, time.Second, time.Millisecond)

	shutdownDone := make(chan struct{})
	go func() {
		p.BeginShutdown(5 * time.Second)
		close(shutdownDone)
	}()

	// New dispatch after shutdown flag is observably set must be rejected.
	require.Eventually(t, func() bool { return p.IsShuttingDown() }, time.Second, time.Millisecond)
	rejected := p.Dispatch(context.Background(), "modelA", 1600, testReq{tokens: 1}, fakeLoader(m))
	rejectedChunks := rejected.Drain(context.Background())
	require.Len(t, rejectedChunks, 1)
	assert.ErrorIs(t, rejectedChunks[0].err, ErrShutdown)

	close(pause)
	chunks := inFlight.Drain(context.Background())
	require.NotEmpty(t, chunks)
	assert.True(t, chunks[len(chunks)-1].complete)

	select {
	case <-shutdownDone:
	case <-time.After(5 * time.Second):
		t.Fatal("BeginShutdown did not return after pending drained to zero")
	}
}

func TestLoadFailureReleasesReservationAndIsRetryable(t *testing.T) {
	p := newTestPool(2000, DefaultConfig())
	bad := &fakeModel{failLoad: true}

	s := p.Dispatch(context.Background(), "modelA", 1600, testReq{tokens: 1}, fakeLoader(bad))
	chunks := s.Drain(context.Background())
	require.Len(t, chunks, 1)
	require.Error(t, chunks[0].err)
	assert.Equal(t, int64(0), p.TotalMemoryReservedMB())
	assert.Equal(t, 0, p.WorkerCount("modelA"))

	good := &fakeModel{}
	s2 := p.Dispatch(context.Background(), "modelA", 1600, testReq{tokens: 1}, fakeLoader(good))
	chunks2 := s2.Drain(context.Background())
	require.NotEmpty(t, chunks2)
	assert.True(t, chunks2[len(chunks2)-1].complete)
	assert.Equal(t, int64(1600), p.TotalMemoryReservedMB())
}

func collectMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) (metricdata.Metrics, bool) {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

// TestDispatchRecordsMetrics verifies the pool reports cold starts, worker
// spawns, and reserved memory through a real Metrics instance rather than
// leaving it an unused constructor argument.
func TestDispatchRecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := observe.NewMetrics(mp)
	require.NoError(t, err)

	acct := accountant.NewWithTotalMB(32*1024, 0.80)
	p := New[testReq, testChunk]("test", DefaultConfig(), acct, errChunk, nil, metrics)

	m := &fakeModel{}
	s := p.Dispatch(context.Background(), "modelA", 1600, testReq{tokens: 1}, fakeLoader(m))
	s.Drain(context.Background())

	coldStarts, ok := collectMetric(t, reader, "pool.cold_starts")
	require.True(t, ok)
	sum := coldStarts.Data.(metricdata.Sum[int64])
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(1), sum.DataPoints[0].Value)

	spawned, ok := collectMetric(t, reader, "pool.workers_spawned")
	require.True(t, ok)
	spawnSum := spawned.Data.(metricdata.Sum[int64])
	assert.Equal(t, int64(2), spawnSum.DataPoints[0].Value)

	reserved, ok := collectMetric(t, reader, "pool.reserved_memory_mb")
	require.True(t, ok)
	reservedSum := reserved.Data.(metricdata.Sum[int64])
	assert.Equal(t, int64(3200), reservedSum.DataPoints[0].Value)
}

// TestDispatchRecordsErrorMetric verifies a dispatch-time memory-exhausted
// failure is tagged and counted rather than only logged.
func TestDispatchRecordsErrorMetric(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := observe.NewMetrics(mp)
	require.NoError(t, err)

	acct := accountant.NewWithTotalMB(100, 0.80)
	p := New[testReq, testChunk]("test", DefaultConfig(), acct, errChunk, nil, metrics)

	m := &fakeModel{}
	s := p.Dispatch(context.Background(), "modelA", 1000, testReq{tokens: 1}, fakeLoader(m))
	chunks := s.Drain(context.Background())
	require.Len(t, chunks, 1)
	require.Error(t, chunks[0].err)

	errs, ok := collectMetric(t, reader, "pool.dispatch_errors")
	require.True(t, ok)
	sum := errs.Data.(metricdata.Sum[int64])
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(1), sum.DataPoints[0].Value)
}
