// Package pool implements the per-capability worker pool: cold-start spawn
// with race-free serialization, least-busy dispatch, and
// a timed shutdown drain. One Pool[Req, Chunk] instance exists per
// capability (text-to-text, text-embedding, image-embedding, vision,
// text-to-image); the type parameters let a single implementation serve
// all five without reflection or interface{} boxing on the hot path.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bhangun/wayang-inference/internal/accountant"
	"github.com/bhangun/wayang-inference/internal/observe"
	"github.com/bhangun/wayang-inference/internal/stream"
	"github.com/bhangun/wayang-inference/internal/worker"
	"github.com/sirupsen/logrus"
)

// Sentinel errors surfaced (wrapped) as error chunks, per spec §7's error
// taxonomy.
var (
	ErrShutdown     = errors.New("pool: shut down, rejecting new dispatches")
	ErrSpawnTimeout = errors.New("pool: cold-start wait timed out")
	ErrNoWorker     = errors.New("pool: no worker available after retry")
)

// Config holds the per-pool tunables from spec §6.
type Config struct {
	MaxWorkersPerModel int
	DrainTimeout       time.Duration
	SpawnWaitTimeout   time.Duration
	ChannelCapacity    int
}

// DefaultConfig matches the defaults in spec §6's configuration table.
func DefaultConfig() Config {
	return Config{
		MaxWorkersPerModel: 2,
		DrainTimeout:       5 * time.Second,
		SpawnWaitTimeout:   30 * time.Second,
		ChannelCapacity:    32,
	}
}

// Loader constructs a ready-to-serve Loaded model for one worker. Called on
// a freshly spawned goroutine per spec §5 ("allowed to block and may take
// significant wall time on first call").
type Loader[Req any, Chunk any] func(ctx context.Context) (worker.Loaded[Req, Chunk], error)

type workerList[Req any, Chunk any] struct {
	mu      sync.RWMutex
	handles []*worker.Handle[Req, Chunk]
}

func (wl *workerList[Req, Chunk]) snapshot() []*worker.Handle[Req, Chunk] {
	wl.mu.RLock()
	defer wl.mu.RUnlock()
	out := make([]*worker.Handle[Req, Chunk], len(wl.handles))
	copy(out, wl.handles)
	return out
}

func (wl *workerList[Req, Chunk]) append(h ...*worker.Handle[Req, Chunk]) {
	wl.mu.Lock()
	defer wl.mu.Unlock()
	wl.handles = append(wl.handles, h...)
}

func (wl *workerList[Req, Chunk]) evict(dead *worker.Handle[Req, Chunk]) {
	wl.mu.Lock()
	defer wl.mu.Unlock()
	for i, h := range wl.handles {
		if h == dead {
			wl.handles = append(wl.handles[:i], wl.handles[i+1:]...)
			return
		}
	}
}

func (wl *workerList[Req, Chunk]) len() int {
	wl.mu.RLock()
	defer wl.mu.RUnlock()
	return len(wl.handles)
}

// spawnState coordinates the one cold-start spawn in flight for a
// registry key. The first caller to store one becomes the holder; every
// other concurrent caller observes loaded==true from sync.Map.LoadOrStore
// and waits on ready instead.
type spawnState struct {
	ready chan struct{}
	err   error
}

// Pool is the per-capability worker pool described in spec §4.4.
type Pool[Req any, Chunk any] struct {
	capability string
	cfg        Config
	accountant *accountant.Accountant
	errChunk   func(error) Chunk
	metrics    *observe.Metrics

	// lastReportedMB is the reserved-MiB value last pushed to the metrics
	// gauge, so concurrent spawns/deaths report deltas against a single
	// shared baseline instead of racing on stale prevMB values.
	lastReportedMB atomic.Int64

	workers    sync.Map // registryKey string -> *workerList[Req, Chunk]
	spawnLocks sync.Map // registryKey string -> *spawnState

	shuttingDown atomic.Bool
	shutdownCh   chan struct{}
	closeOnce    sync.Once

	logger *logrus.Entry
}

// New constructs a Pool for one capability. errChunk builds the
// capability-specific error-variant chunk from a Go error, so every
// failure mode in spec §7 can be delivered in-band on the caller's stream.
// metrics may be nil, in which case every instrument call below is a no-op.
func New[Req any, Chunk any](capability string, cfg Config, acct *accountant.Accountant, errChunk func(error) Chunk, logger *logrus.Logger, metrics *observe.Metrics) *Pool[Req, Chunk] {
	if cfg.MaxWorkersPerModel <= 0 {
		cfg.MaxWorkersPerModel = 2
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Second
	}
	if cfg.SpawnWaitTimeout <= 0 {
		cfg.SpawnWaitTimeout = 30 * time.Second
	}
	if cfg.ChannelCapacity <= 0 {
		cfg.ChannelCapacity = 32
	}
	var entry *logrus.Entry
	if logger != nil {
		entry = logger.WithField("pool", capability)
	} else {
		l := logrus.New()
		entry = l.WithField("pool", capability)
	}
	return &Pool[Req, Chunk]{
		capability: capability,
		cfg:        cfg,
		accountant: acct,
		errChunk:   errChunk,
		metrics:    metrics,
		shutdownCh: make(chan struct{}),
		logger:     entry,
	}
}

func (p *Pool[Req, Chunk]) list(key string) *workerList[Req, Chunk] {
	actual, _ := p.workers.LoadOrStore(key, &workerList[Req, Chunk]{})
	return actual.(*workerList[Req, Chunk])
}

// HasWorkers reports whether any worker currently exists for key.
func (p *Pool[Req, Chunk]) HasWorkers(key string) bool {
	return p.list(key).len() > 0
}

// TotalMemoryReservedMB mirrors spec invariant 1: the accountant's reserved
// counter always equals the sum of every live worker's reservation, because
// every reservation is made (and released) exactly once, by this pool.
func (p *Pool[Req, Chunk]) TotalMemoryReservedMB() int64 {
	return p.accountant.Reserved()
}

// EnsureWorkers is the canonical cold-start helper (spec §4.4, §4.5): at
// most one goroutine per registry key actually spawns; every other
// concurrent caller waits on the same result. Safe to call unconditionally
// before every dispatch — it no-ops once workers exist.
func (p *Pool[Req, Chunk]) EnsureWorkers(ctx context.Context, key string, perWorkerMB int, load Loader[Req, Chunk]) error {
	if p.HasWorkers(key) {
		return nil
	}
	if p.shuttingDown.Load() {
		return ErrShutdown
	}

	actual, alreadyInFlight := p.spawnLocks.LoadOrStore(key, &spawnState{ready: make(chan struct{})})
	st := actual.(*spawnState)

	if !alreadyInFlight {
		p.runColdStart(key, perWorkerMB, load, st)
		return st.err
	}

	select {
	case <-st.ready:
		return st.err
	case <-time.After(p.cfg.SpawnWaitTimeout):
		return ErrSpawnTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runColdStart is executed by exactly one goroutine per registry key (the
// holder of the spawn lock). It double-checks worker presence, asks the
// accountant how many workers fit, spawns them in parallel, and publishes
// the result to every waiter.
//
// The spawn-lock map entry is only a coordination point, not a held mutex:
// waiters block on st.ready with a timeout (spawn_wait_timeout), so a
// hung Loader cannot deadlock other callers indefinitely — it only delays
// them up to the configured timeout, resolving the deadlock hazard spec §9
// calls out without needing to release the "lock" before the load
// completes.
func (p *Pool[Req, Chunk]) runColdStart(key string, perWorkerMB int, load Loader[Req, Chunk], st *spawnState) {
	defer func() {
		close(st.ready)
		p.spawnLocks.Delete(key)
	}()

	if p.HasWorkers(key) {
		return
	}
	if p.shuttingDown.Load() {
		st.err = ErrShutdown
		return
	}

	n, err := p.accountant.PlanColdStart(perWorkerMB, p.cfg.MaxWorkersPerModel)
	if err != nil {
		st.err = err
		p.recordColdStart(key, "memory_exhausted")
		return
	}

	type spawnResult struct {
		handle *worker.Handle[Req, Chunk]
		err    error
	}
	results := make([]spawnResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := p.spawnOne(key, perWorkerMB, load)
			results[i] = spawnResult{handle: h, err: err}
		}(i)
	}
	wg.Wait()

	var handles []*worker.Handle[Req, Chunk]
	var firstErr error
	for _, r := range results {
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		handles = append(handles, r.handle)
	}

	if len(handles) == 0 {
		st.err = firstErr
		p.recordColdStart(key, "load_failed")
		return
	}
	if firstErr != nil {
		p.logger.WithError(firstErr).WithField("registry_key", key).
			Warn("cold-start: some sibling workers failed to spawn, continuing with partial pool")
	}
	p.recordColdStart(key, "ok")
	p.list(key).append(handles...)
}

func (p *Pool[Req, Chunk]) recordColdStart(key, status string) {
	if p.metrics != nil {
		p.metrics.RecordColdStart(context.Background(), p.capability, key, status)
	}
}

// spawnOne reserves memory, loads the model, and starts the worker
// goroutine. On any failure the reservation is released — spec invariant 4
// ("a worker exists only after both reservation and load have succeeded").
func (p *Pool[Req, Chunk]) spawnOne(key string, perWorkerMB int, load Loader[Req, Chunk]) (*worker.Handle[Req, Chunk], error) {
	reservation, err := p.accountant.Reserve(perWorkerMB)
	if err != nil {
		return nil, err
	}
	p.recordReservedMemory()

	loaded, err := load(context.Background())
	if err != nil {
		reservation.Release()
		p.recordReservedMemory()
		return nil, fmt.Errorf("load failed: %w", err)
	}

	handle := worker.NewHandle[Req, Chunk](key, perWorkerMB, p.cfg.ChannelCapacity)
	onDeath := func(reason string) {
		p.recordReservedMemory()
		if p.metrics != nil {
			p.metrics.RecordWorkerDeath(context.Background(), p.capability, key, reason)
		}
	}
	w := worker.New[Req, Chunk](handle, loaded, reservation, p.shutdownCh, p.logger, onDeath)
	go w.Run()
	if p.metrics != nil {
		p.metrics.RecordWorkerSpawned(context.Background(), p.capability, key)
	}
	return handle, nil
}

// recordReservedMemory reports the accountant's current reservation to the
// metrics gauge. Called around every reserve/release so the gauge tracks
// the accountant rather than drifting from double-counted deltas.
func (p *Pool[Req, Chunk]) recordReservedMemory() {
	if p.metrics == nil {
		return
	}
	for {
		cur := p.accountant.Reserved()
		prev := p.lastReportedMB.Swap(cur)
		p.metrics.SetReservedMemoryMB(context.Background(), p.capability, cur, prev)
		// A concurrent caller may have swapped in an older reading after
		// ours; report again until the stored value matches the accountant.
		if p.accountant.Reserved() == cur {
			return
		}
	}
}

// selectLeastBusy scans the live handles for key and returns the one with
// the lowest pending count, tie-broken by stable slice order. Handles found
// dead are evicted. The handle list is copied under the list's read lock;
// Pending() is then an atomic read per handle, not a consistent snapshot
// across workers — racing increments are acceptable per spec §4.4.
func (p *Pool[Req, Chunk]) selectLeastBusy(key string) (*worker.Handle[Req, Chunk], error) {
	handles := p.list(key).snapshot()
	var best *worker.Handle[Req, Chunk]
	var bestPending int64 = -1
	for _, h := range handles {
		if h.Dead() {
			p.evictDead(key, h)
			continue
		}
		pending := h.Pending()
		if best == nil || pending < bestPending {
			best = h
			bestPending = pending
		}
	}
	if best == nil {
		return nil, ErrNoWorker
	}
	return best, nil
}

// evictDead removes a handle discovered dead at selection or send time.
// There is no idle-worker eviction: a live worker stays until shutdown.
func (p *Pool[Req, Chunk]) evictDead(key string, h *worker.Handle[Req, Chunk]) {
	p.list(key).evict(h)
}

func (p *Pool[Req, Chunk]) recordDispatchError(kind string) {
	if p.metrics != nil {
		p.metrics.RecordDispatchError(context.Background(), p.capability, kind)
	}
}

// dispatchErrorKind classifies an EnsureWorkers failure for the
// dispatch-error metric's "kind" label.
func dispatchErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrSpawnTimeout):
		return "spawn_timeout"
	case errors.Is(err, ErrShutdown):
		return "shutdown"
	case errors.Is(err, accountant.ErrMemoryExhausted):
		return "memory_exhausted"
	default:
		return "load_failed"
	}
}

func (p *Pool[Req, Chunk]) oneChunkErrorStream(err error) *stream.Stream[Chunk] {
	return stream.New[Chunk](1, func(s stream.Sender[Chunk]) {
		s.Send(p.errChunk(err))
	})
}

// Dispatch implements spec §4.4's request routing: reject if shutting
// down, cold-start if necessary, select the least-busy worker, send the
// envelope, and return the resulting stream. Every failure mode becomes a
// one-chunk error stream rather than a Go error return, so callers never
// need to distinguish "no workers" from "inference failed".
func (p *Pool[Req, Chunk]) Dispatch(ctx context.Context, key string, perWorkerMB int, req Req, load Loader[Req, Chunk]) *stream.Stream[Chunk] {
	if p.shuttingDown.Load() {
		p.recordDispatchError("shutdown")
		return p.oneChunkErrorStream(ErrShutdown)
	}

	if err := p.EnsureWorkers(ctx, key, perWorkerMB, load); err != nil {
		p.recordDispatchError(dispatchErrorKind(err))
		return p.oneChunkErrorStream(err)
	}

	h, err := p.selectLeastBusy(key)
	if err != nil {
		p.recordDispatchError("no_worker")
		return p.oneChunkErrorStream(err)
	}

	return stream.New[Chunk](p.cfg.ChannelCapacity, func(sink stream.Sender[Chunk]) {
		env := worker.Envelope[Req, Chunk]{Request: req, Sink: sink, Done: make(chan struct{})}
		if !h.Send(env) {
			p.evictDead(key, h)
			h2, err := p.selectLeastBusy(key)
			if err != nil {
				sink.Send(p.errChunk(ErrNoWorker))
				return
			}
			env2 := worker.Envelope[Req, Chunk]{Request: req, Sink: sink, Done: make(chan struct{})}
			if !h2.Send(env2) {
				p.evictDead(key, h2)
				sink.Send(p.errChunk(ErrNoWorker))
				return
			}
			<-env2.Done
			return
		}
		<-env.Done
	})
}

// BeginShutdown implements spec §4.4's drain sequence: reject new
// dispatches immediately, signal every worker to stop after its current
// request, then poll pending counts every 100ms until they reach zero or
// timeout elapses.
func (p *Pool[Req, Chunk]) BeginShutdown(timeout time.Duration) {
	if timeout <= 0 {
		timeout = p.cfg.DrainTimeout
	}
	p.shuttingDown.Store(true)
	p.closeOnce.Do(func() { close(p.shutdownCh) })

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if p.pendingTotal() == 0 {
			return
		}
		if time.Now().After(deadline) {
			p.logger.WithField("pending", p.pendingTotal()).
				Warn("shutdown: drain timeout elapsed with requests still in flight")
			return
		}
		<-ticker.C
	}
}

func (p *Pool[Req, Chunk]) pendingTotal() int64 {
	var total int64
	p.workers.Range(func(_, v any) bool {
		wl := v.(*workerList[Req, Chunk])
		for _, h := range wl.snapshot() {
			total += h.Pending()
		}
		return true
	})
	return total
}

// WorkerCount returns the number of live workers for key — used by tests
// and metrics, not by the dispatch hot path.
func (p *Pool[Req, Chunk]) WorkerCount(key string) int {
	return p.list(key).len()
}

// IsShuttingDown reports whether BeginShutdown has been called.
func (p *Pool[Req, Chunk]) IsShuttingDown() bool { return p.shuttingDown.Load() }
