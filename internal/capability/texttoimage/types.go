// Package texttoimage defines the text-to-image capability: a prompt and
// a generation config in, a stream of step-progress chunks followed by a
// terminal tensor payload out.
package texttoimage

import (
	"fmt"

	"github.com/bhangun/wayang-inference/internal/capability/capabilityerr"
	"github.com/bhangun/wayang-inference/internal/stream"
)

// ErrInvalidInput re-exports the shared invalid-input sentinel.
var ErrInvalidInput = capabilityerr.ErrInvalidInput

// Config mirrors spec.md §6's image generation parameters.
type Config struct {
	Width          int
	Height         int
	Steps          int // must be in [1, 150]
	GuidanceScale  float32
	NegativePrompt string
	Seed           int
	UseFlashAttn   bool
}

// Validate checks the invariants spec.md names explicitly.
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("%w: width and height must be positive, got %dx%d", ErrInvalidInput, c.Width, c.Height)
	}
	if c.Steps < 1 || c.Steps > 150 {
		return fmt.Errorf("%w: steps must be in [1, 150], got %d", ErrInvalidInput, c.Steps)
	}
	if c.GuidanceScale < 0 {
		return fmt.Errorf("%w: guidance_scale must be non-negative, got %f", ErrInvalidInput, c.GuidanceScale)
	}
	return nil
}

// Request carries one prompt + config + target device for one generation.
type Request struct {
	Prompt string
	Config Config
	Device string
}

// Validate rejects an empty prompt or invalid config before the pool is
// ever touched.
func (r Request) Validate() error {
	if r.Prompt == "" {
		return fmt.Errorf("%w: prompt is required", ErrInvalidInput)
	}
	return r.Config.Validate()
}

// Kind tags which variant of Chunk is populated.
type Kind int

const (
	KindStep Kind = iota
	KindComplete
	KindError
)

// Tensor is the terminal generated-image payload: raw pixel data plus
// the shape needed to interpret it.
type Tensor struct {
	Data     []float32
	Width    int
	Height   int
	Channels int
}

// Chunk is the text-to-image tagged-union chunk: a diffusion step
// progress event, a terminal tensor, or an error.
type Chunk struct {
	Kind Kind

	StepIndex int
	StepTotal int

	Image Tensor

	Err error
}

// ErrorChunk builds the error-variant chunk.
func ErrorChunk(err error) Chunk { return Chunk{Kind: KindError, Err: err} }

// StepChunk builds a diffusion-step progress chunk.
func StepChunk(index, total int) Chunk {
	return Chunk{Kind: KindStep, StepIndex: index, StepTotal: total}
}

// CompleteChunk builds the terminal chunk carrying the generated image.
func CompleteChunk(img Tensor) Chunk { return Chunk{Kind: KindComplete, Image: img} }

// ChunkStream is the stream type this capability's methods return.
type ChunkStream = stream.Stream[Chunk]

// Capable is the capability trait every text-to-image model variant
// implements.
type Capable interface {
	Generate(prompt string, cfg Config, device string) *ChunkStream
}
