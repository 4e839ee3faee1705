// Package noise is a deterministic reference text-to-image loader: it
// emits one step chunk per configured diffusion step, back to back, and
// a terminal chunk carrying a seeded-noise pixel tensor, rather than
// running a real diffusion model. It exists so the text-to-image
// capability's step-progress-then-tensor chunk shape can be exercised
// end to end without bundling real model weights.
package noise

import (
	"context"
	"math/rand"

	"github.com/bhangun/wayang-inference/internal/capability/texttoimage"
	"github.com/bhangun/wayang-inference/internal/registry/descriptor"
	"github.com/bhangun/wayang-inference/internal/stream"
)

// Loaded is a stateless deterministic noise-image generator.
type Loaded struct{ name string }

// Load builds a Loaded generator; no descriptor fields are needed beyond
// the display name.
func Load(ctx context.Context, d *descriptor.Descriptor) (texttoimage.Loaded, error) {
	return &Loaded{name: d.Name}, nil
}

// Infer emits one step chunk per configured step, then a terminal chunk
// carrying a seeded-noise RGB tensor at the requested resolution.
func (l *Loaded) Infer(ctx context.Context, req texttoimage.Request, sink stream.Sender[texttoimage.Chunk]) {
	cfg := req.Config
	for i := 1; i <= cfg.Steps; i++ {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !sink.Send(texttoimage.StepChunk(i, cfg.Steps)) {
			return
		}
	}

	src := rand.New(rand.NewSource(int64(cfg.Seed)))
	channels := 3
	data := make([]float32, cfg.Width*cfg.Height*channels)
	for i := range data {
		data[i] = src.Float32()*2 - 1
	}
	sink.Send(texttoimage.CompleteChunk(texttoimage.Tensor{
		Data:     data,
		Width:    cfg.Width,
		Height:   cfg.Height,
		Channels: channels,
	}))
}

// Close is a no-op; there is no backing resource to release.
func (l *Loaded) Close() error { return nil }
