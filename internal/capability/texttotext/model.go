package texttotext

import (
	"context"

	"github.com/bhangun/wayang-inference/internal/pool"
	"github.com/bhangun/wayang-inference/internal/registry/descriptor"
	"github.com/bhangun/wayang-inference/internal/stream"
	"github.com/bhangun/wayang-inference/internal/worker"
)

// Loaded is implemented by a concrete loaded text-to-text model (e.g. the
// llama.cpp-backed loader in internal/models/texttotext/llamacpp). It is
// the only thing that ever touches the in-memory weights after load.
type Loaded interface {
	Infer(ctx context.Context, req Request, sink stream.Sender[Chunk])
	Close() error
}

// Loader constructs a Loaded model from a descriptor. Blocking and
// potentially slow — runs on a freshly spawned worker goroutine, never on
// a caller's goroutine (spec.md §5).
type Loader func(ctx context.Context, d *descriptor.Descriptor) (Loaded, error)

// loadedAdapter satisfies worker.Loaded[Request, Chunk] by delegating to a
// capability-specific Loaded value — the seam between the generic pool
// package and this capability's concrete types.
type loadedAdapter struct{ inner Loaded }

func (a loadedAdapter) Infer(ctx context.Context, req Request, sink stream.Sender[Chunk]) {
	a.inner.Infer(ctx, req, sink)
}
func (a loadedAdapter) Close() error { return a.inner.Close() }

// Model is the tagged-union capability variant: a cheap-to-clone handle to
// a static descriptor plus the loader for that specific model kind. The
// weights themselves are never here — they live exclusively in the
// worker that owns them once spawned.
type Model struct {
	Descriptor *descriptor.Descriptor
	pool       *pool.Pool[Request, Chunk]
	load       Loader
}

// NewModel binds a descriptor and loader to the shared text-to-text pool.
// All text-to-text models in the process route through the same *Pool,
// bucketed by RegistryKey — one pool per capability, per spec.md §9.
func NewModel(d *descriptor.Descriptor, p *pool.Pool[Request, Chunk], load Loader) *Model {
	return &Model{Descriptor: d, pool: p, load: load}
}

// Prompt implements Capable. It performs the three steps spec.md §4.5
// assigns to every capability trait implementation: resolve the registry
// key and per-worker memory estimate, ensure workers are spawned, and
// dispatch — returning the pool's stream unchanged.
func (m *Model) Prompt(prompt string, params Params) *ChunkStream {
	if err := params.Validate(); err != nil {
		return stream.New[Chunk](1, func(s stream.Sender[Chunk]) { s.Send(ErrorChunk(err)) })
	}

	req := Request{Prompt: prompt, Params: params}
	loader := func(ctx context.Context) (worker.Loaded[Request, Chunk], error) {
		loaded, err := m.load(ctx, m.Descriptor)
		if err != nil {
			return nil, err
		}
		return loadedAdapter{inner: loaded}, nil
	}
	return m.pool.Dispatch(context.Background(), m.Descriptor.RegistryKey, m.Descriptor.EstMemoryAllocationMB, req, loader)
}

var _ Capable = (*Model)(nil)
