package vision

import (
	"context"

	"github.com/bhangun/wayang-inference/internal/pool"
	"github.com/bhangun/wayang-inference/internal/registry/descriptor"
	"github.com/bhangun/wayang-inference/internal/stream"
	"github.com/bhangun/wayang-inference/internal/worker"
)

// Loaded is implemented by a concrete loaded vision model.
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

// Model is the tagged-union capability variant for one vision model kind.
type Model struct {
	Descriptor *descriptor.Descriptor
	pool       *pool.Pool[Request, Chunk]
	load       Loader
}

// NewModel binds a descriptor and loader to the shared vision pool.
func NewModel(d *descriptor.Descriptor, p *pool.Pool[Request, Chunk], load Loader) *Model {
	return &Model{Descriptor: d, pool: p, load: load}
}

// Describe implements Capable.
func (m *Model) Describe(imageSource string, kind ImageSourceKind, query string) *ChunkStream {
	req := Request{ImageSource: imageSource, ImageSourceKind: kind, Query: query}
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
