// Package echo is a deterministic reference vision loader: it streams a
// short description built from the image source and query strings
// themselves rather than running a real vision-language model, so the
// vision capability and its HTTP route can be exercised end to end
// without bundling real model weights.
package echo

import (
	"context"
	"fmt"
	"strings"

	"github.com/bhangun/wayang-inference/internal/capability/vision"
	"github.com/bhangun/wayang-inference/internal/registry/descriptor"
	"github.com/bhangun/wayang-inference/internal/stream"
)

// Loaded is a stateless echo responder.
type Loaded struct{ name string }

// Load builds a Loaded echo responder; no descriptor fields are needed
// beyond the display name.
func Load(ctx context.Context, d *descriptor.Descriptor) (vision.Loaded, error) {
	return &Loaded{name: d.Name}, nil
}

// Infer streams the response word by word as fragment chunks, then a
// terminal complete chunk, mirroring a real streaming vision model's
// output shape.
func (l *Loaded) Infer(ctx context.Context, req vision.Request, sink stream.Sender[vision.Chunk]) {
	response := fmt.Sprintf("observed %s: %s", describeSource(req), req.Query)
	for _, word := range strings.Fields(response) {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !sink.Send(vision.FragmentChunk(word + " ")) {
			return
		}
	}
	sink.Send(vision.CompleteChunk(vision.FinishStop, vision.Usage{}))
}

func describeSource(req vision.Request) string {
	if req.ImageSourceKind == vision.ImageSourceURL {
		return "remote image"
	}
	return "local image"
}

// Close is a no-op; there is no backing resource to release.
func (l *Loaded) Close() error { return nil }
