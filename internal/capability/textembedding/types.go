// Package textembedding defines the text-embedding capability: one or many
// strings in, one dense vector per string out. Unlike text-to-text, the
// result is a single terminal payload rather than an incremental token
// sequence — but it still rides the same bounded, drop-cancellable stream
// substrate, yielding exactly one chunk before closing.
package textembedding

import (
	"fmt"

	"github.com/bhangun/wayang-inference/internal/capability/capabilityerr"
	"github.com/bhangun/wayang-inference/internal/stream"
)

// ErrInvalidInput re-exports the shared invalid-input sentinel.
var ErrInvalidInput = capabilityerr.ErrInvalidInput

// Request carries one or many texts to embed in a single call — batching
// is handled by the loader, not by issuing N separate worker requests.
type Request struct {
	Texts []string
}

// Validate rejects empty batches before the pool is ever touched.
func (r Request) Validate() error {
	if len(r.Texts) == 0 {
		return fmt.Errorf("%w: at least one text is required", ErrInvalidInput)
	}
	return nil
}

// Kind tags which variant of Chunk is populated.
type Kind int

const (
	KindResult Kind = iota
	KindError
)

// Chunk is the text-embedding tagged-union chunk: one-shot vectors or an
// error, per spec.md §3.
type Chunk struct {
	Kind     Kind
	Vectors  [][]float32 // one vector per input text, same order
	Model    string
	Err      error
}

// ErrorChunk builds the error-variant chunk.
func ErrorChunk(err error) Chunk { return Chunk{Kind: KindError, Err: err} }

// ResultChunk builds the terminal result chunk.
func ResultChunk(model string, vectors [][]float32) Chunk {
	return Chunk{Kind: KindResult, Model: model, Vectors: vectors}
}

// ChunkStream is the stream type this capability's methods return.
type ChunkStream = stream.Stream[Chunk]

// Capable is the capability trait every text-embedding model variant
// implements.
type Capable interface {
	Embed(texts []string) *ChunkStream
}
