package imageembedding

import (
	"context"

	"github.com/bhangun/wayang-inference/internal/pool"
	"github.com/bhangun/wayang-inference/internal/registry/descriptor"
	"github.com/bhangun/wayang-inference/internal/stream"
	"github.com/bhangun/wayang-inference/internal/worker"
)

// Loaded is implemented by a concrete loaded image-embedding model.
type Loaded interface {
	Infer(ctx context.Context, req Request, sink stream.Sender[Chunk])
	Close() error
}

// Loader constructs a Loaded model from a descriptor.
type Loader func(ctx context.Context, d *descriptor.Descriptor) (Loaded, error)

type loadedAdapter struct{ inner Loaded }

func (a loadedAdapter) Infer(ctx context.Context, req Request, sink stream.Sender[Chunk]) {
	a.inner.Infer(ctx, req, sink)
}
func (a loadedAdapter) Close() error { return a.inner.Close() }

// Model is the tagged-union capability variant for one image-embedding
// model kind.
type Model struct {
	Descriptor *descriptor.Descriptor
	pool       *pool.Pool[Request, Chunk]
	load       Loader
}

// NewModel binds a descriptor and loader to the shared image-embedding
// pool.
func NewModel(d *descriptor.Descriptor, p *pool.Pool[Request, Chunk], load Loader) *Model {
	return &Model{Descriptor: d, pool: p, load: load}
}

// EmbedImage implements Capable.
func (m *Model) EmbedImage(source string, kind SourceKind) *ChunkStream {
	req := Request{Source: source, SourceKind: kind}
	if err := req.Validate(); err != nil {
		return stream.New[Chunk](1, func(s stream.Sender[Chunk]) { s.Send(ErrorChunk(err)) })
	}

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
