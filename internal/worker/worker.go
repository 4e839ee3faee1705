// Package worker implements the single-threaded request loop that owns one
// loaded model exclusively. A Worker is the only thing that ever touches a
// Loaded value after it is constructed; there is no lock around the model.
package worker

import (
	"context"
	"runtime"
	"sync/atomic"

	"github.com/bhangun/wayang-inference/internal/accountant"
	"github.com/bhangun/wayang-inference/internal/stream"
	"github.com/sirupsen/logrus"
)

// Loaded is a model that has already paid its load cost and is ready to
// serve requests from exactly one worker. Infer must thread every produced
// chunk through sink and return once the terminal chunk (or an error
// chunk) has been sent, or once sink reports cancellation.
type Loaded[Req any, Chunk any] interface {
	Infer(ctx context.Context, req Req, sink stream.Sender[Chunk])
	Close() error
}

// Envelope carries one request and its result-stream sink. Consumed
// exactly once by the worker that receives it.
type Envelope[Req any, Chunk any] struct {
	Request Req
	Sink    stream.Sender[Chunk]
	// Done is closed by the worker once it has finished processing this
	// envelope (terminal chunk sent, error chunk sent, or aborted because
	// the consumer dropped the stream). The dispatching goroutine waits on
	// it before letting the stream's producer goroutine return, which is
	// what keeps the stream's channel open for the worker's full duration.
	Done chan struct{}
}

// Handle is the pool-facing view of a worker: atomic counters and a
// channel, nothing else. Selection is a lock-free scan over handles.
type Handle[Req any, Chunk any] struct {
	RegistryKey string
	MemoryMB    int

	pending atomic.Int64
	reqCh   chan Envelope[Req, Chunk]
	dead    chan struct{}
}

// NewHandle allocates a handle with the given request-channel capacity.
func NewHandle[Req any, Chunk any](registryKey string, memoryMB int, capacity int) *Handle[Req, Chunk] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Handle[Req, Chunk]{
		RegistryKey: registryKey,
		MemoryMB:    memoryMB,
		reqCh:       make(chan Envelope[Req, Chunk], capacity),
		dead:        make(chan struct{}),
	}
}

// Pending is the number of in-flight envelopes sent to this worker that
// have not yet completed or been dropped. Reads are atomic snapshots, not a
// consistent cross-worker view — good enough for least-busy routing.
func (h *Handle[Req, Chunk]) Pending() int64 { return h.pending.Load() }

// Dead reports whether the worker behind this handle has exited (panic,
// shutdown, or otherwise). A pool must evict a dead handle on discovery.
func (h *Handle[Req, Chunk]) Dead() bool {
	select {
	case <-h.dead:
		return true
	default:
		return false
	}
}

// Send delivers env to the worker, blocking until the worker's channel
// accepts it or the worker is discovered dead. Returns false on the latter
// — the caller must evict this handle and retry on another worker.
func (h *Handle[Req, Chunk]) Send(env Envelope[Req, Chunk]) bool {
	select {
	case h.reqCh <- env:
		return true
	case <-h.dead:
		return false
	}
}

// Worker owns exactly one Loaded model and runs its request loop on a
// dedicated, OS-thread-pinned goroutine so inference work never blocks the
// shared cooperative scheduler used by stream/pool plumbing.
type Worker[Req any, Chunk any] struct {
	handle      *Handle[Req, Chunk]
	model       Loaded[Req, Chunk]
	reservation *accountant.Reservation
	shutdown    <-chan struct{}
	logger      *logrus.Entry
	onDeath     func(reason string)
}

// New constructs a Worker. Run must be called (typically via `go w.Run()`)
// to start its request loop. onDeath, if non-nil, is invoked exactly once
// when the worker's request loop exits, with "panic" or "shutdown" — the
// pool uses it to keep its active-worker metric in step with reality.
func New[Req any, Chunk any](
	handle *Handle[Req, Chunk],
	model Loaded[Req, Chunk],
	reservation *accountant.Reservation,
	shutdown <-chan struct{},
	logger *logrus.Entry,
	onDeath func(reason string),
) *Worker[Req, Chunk] {
	return &Worker[Req, Chunk]{
		handle:      handle,
		model:       model,
		reservation: reservation,
		shutdown:    shutdown,
		logger:      logger,
		onDeath:     onDeath,
	}
}

// Run executes the request loop described in spec §4.3: await an envelope,
// increment pending, invoke inference, send the terminal/error chunk,
// decrement pending, repeat. On shutdown signal or panic it exits, drops
// the loaded model, and releases its memory reservation.
func (w *Worker[Req, Chunk]) Run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	reason := "shutdown"
	defer func() {
		if w.onDeath != nil {
			w.onDeath(reason)
		}
	}()
	defer close(w.handle.dead)
	defer w.reservation.Release()
	defer func() {
		if err := w.model.Close(); err != nil && w.logger != nil {
			w.logger.WithError(err).Warn("worker: error closing loaded model")
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			reason = "panic"
			if w.logger != nil {
				w.logger.WithField("panic", r).Error("worker: panic in request loop, treating as worker death")
			}
		}
	}()

	for {
		select {
		case env, ok := <-w.handle.reqCh:
			if !ok {
				return
			}
			w.process(env)
		case <-w.shutdown:
			return
		}
	}
}

// process invokes inference for one envelope. A panic here is deliberately
// NOT recovered at this level: per spec §4.4, a worker thread panic is
// worker death, not an inference error — it must propagate to Run's
// recover so the whole worker (and its handle) is torn down and evicted,
// rather than silently surviving with a poisoned loaded-model value.
func (w *Worker[Req, Chunk]) process(env Envelope[Req, Chunk]) {
	w.handle.pending.Add(1)
	defer w.handle.pending.Add(-1)
	defer close(env.Done)

	ctx := context.Background()
	w.model.Infer(ctx, env.Request, env.Sink)
}
