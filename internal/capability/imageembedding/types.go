// Package imageembedding defines the image-embedding capability: an image
// (file path, URL, or base64 payload) in, one dense vector out.
package imageembedding

import (
	"fmt"

	"github.com/bhangun/wayang-inference/internal/capability/capabilityerr"
	"github.com/bhangun/wayang-inference/internal/stream"
)

// ErrInvalidInput re-exports the shared invalid-input sentinel.
var ErrInvalidInput = capabilityerr.ErrInvalidInput

// SourceKind tags how Request.Source should be interpreted.
type SourceKind int

const (
	SourcePath SourceKind = iota
	SourceURL
	SourceBase64
)

// Request carries one image reference to embed.
type Request struct {
	Source     string
	SourceKind SourceKind
}

// Validate rejects an empty source before the pool is touched.
func (r Request) Validate() error {
	if r.Source == "" {
		return fmt.Errorf("%w: image source is required", ErrInvalidInput)
	}
	return nil
}

// Kind tags which variant of Chunk is populated.
type Kind int

const (
	KindResult Kind = iota
	KindError
)

// Chunk is the image-embedding tagged-union chunk: a one-shot vector or an
// error.
type Chunk struct {
	Kind   Kind
	Vector []float32
	Model  string
	Err    error
}

// ErrorChunk builds the error-variant chunk.
func ErrorChunk(err error) Chunk { return Chunk{Kind: KindError, Err: err} }

// ResultChunk builds the terminal result chunk.
func ResultChunk(model string, vector []float32) Chunk {
	return Chunk{Kind: KindResult, Model: model, Vector: vector}
}

// ChunkStream is the stream type this capability's methods return.
type ChunkStream = stream.Stream[Chunk]

// Capable is the capability trait every image-embedding model variant
// implements.
type Capable interface {
	EmbedImage(source string, kind SourceKind) *ChunkStream
}
