// Package hashembed is a deterministic reference image-embedding loader,
// mirroring textembedding/hashembed: it derives a fixed-dimension vector
// from the image source string rather than decoding real pixel data, so
// the image-embedding capability can be exercised without bundling a
// real vision backbone.
package hashembed

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/bhangun/wayang-inference/internal/capability/imageembedding"
	"github.com/bhangun/wayang-inference/internal/registry/descriptor"
	"github.com/bhangun/wayang-inference/internal/stream"
)

// Loaded is a stateless deterministic image embedder.
type Loaded struct {
	name string
	dim  int
}

// Load builds a Loaded embedder sized by the descriptor's modality
// embedding dimension, defaulting to 512 when unset.
func Load(ctx context.Context, d *descriptor.Descriptor) (imageembedding.Loaded, error) {
	dim := d.Modality.EmbeddingDim
	if dim <= 0 {
		dim = 512
	}
	return &Loaded{name: d.Name, dim: dim}, nil
}

// Infer embeds the request's image source and emits a single terminal
// result chunk.
func (l *Loaded) Infer(ctx context.Context, req imageembedding.Request, sink stream.Sender[imageembedding.Chunk]) {
	sink.Send(imageembedding.ResultChunk(l.name, embed(req.Source, l.dim)))
}

// Close is a no-op; there is no backing resource to release.
func (l *Loaded) Close() error { return nil }

func embed(source string, dim int) []float32 {
	out := make([]float32, dim)
	var sumSq float64
	for i := range out {
		h := fnv.New64a()
		h.Write([]byte(source))
		h.Write([]byte{byte(i), byte(i >> 8)})
		v := float32(h.Sum64()%20000)/10000 - 1
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
