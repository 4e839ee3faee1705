// Package hashembed is a deterministic reference text-embedding loader:
// it derives a fixed-dimension vector from each input string's FNV hash
// rather than running a real embedding model. It exists so the
// text-embedding capability, its pool wiring, and its HTTP route can be
// exercised end to end without bundling a real embedding backend.
package hashembed

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/bhangun/wayang-inference/internal/capability/textembedding"
	"github.com/bhangun/wayang-inference/internal/registry/descriptor"
	"github.com/bhangun/wayang-inference/internal/stream"
)

// Loaded is a stateless deterministic embedder; its only per-descriptor
// configuration is the target vector dimension.
type Loaded struct {
	name string
	dim  int
}

// Load builds a Loaded embedder sized by the descriptor's modality
// embedding dimension, defaulting to 256 when unset.
func Load(ctx context.Context, d *descriptor.Descriptor) (textembedding.Loaded, error) {
	dim := d.Modality.EmbeddingDim
	if dim <= 0 {
		dim = 256
	}
	return &Loaded{name: d.Name, dim: dim}, nil
}

// Infer embeds every text in the request and emits a single terminal
// result chunk, per spec.md §3's one-shot text-embedding chunk shape.
func (l *Loaded) Infer(ctx context.Context, req textembedding.Request, sink stream.Sender[textembedding.Chunk]) {
	vectors := make([][]float32, len(req.Texts))
	for i, text := range req.Texts {
		vectors[i] = embed(text, l.dim)
	}
	sink.Send(textembedding.ResultChunk(l.name, vectors))
}

// Close is a no-op; there is no backing resource to release.
func (l *Loaded) Close() error { return nil }

// embed derives a deterministic, L2-normalized vector from text by
// seeding a counter-mode FNV-1a hash per dimension.
func embed(text string, dim int) []float32 {
	out := make([]float32, dim)
	var sumSq float64
	for i := range out {
		h := fnv.New64a()
		h.Write([]byte(text))
		h.Write([]byte{byte(i), byte(i >> 8)})
		v := float32(h.Sum64()%20000)/10000 - 1 // in [-1, 1)
		out[i] = v
		sumSq += float64(v) * float64(v)
	}
	norm := float32(math.Sqrt(sumSq))
	if norm == 0 {
		return out
	}
	for i := range out {
		out[i] /= norm
	}
	return out
}
