// Package vision defines the vision capability: an image plus a text
// query in, a stream of text chunks out. Per spec.md §6 ("vision: image
// path or URL + query string → stream of text chunks"), the output is
// exactly the text-to-text tagged union, so this package reuses
// texttotext.Chunk rather than redeclaring an identical type.
package vision

import (
	"fmt"

	"github.com/bhangun/wayang-inference/internal/capability/capabilityerr"
	"github.com/bhangun/wayang-inference/internal/capability/texttotext"
	"github.com/bhangun/wayang-inference/internal/stream"
)

// ErrInvalidInput re-exports the shared invalid-input sentinel.
var ErrInvalidInput = capabilityerr.ErrInvalidInput

// Chunk is an alias for the text-to-text tagged union; vision output is
// streamed text with the same fragment/tool-call/complete/error shape.
type Chunk = texttotext.Chunk

// ErrorChunk, FragmentChunk and CompleteChunk are re-exported so callers
// never need to import texttotext directly to build a vision chunk.
var (
	ErrorChunk    = texttotext.ErrorChunk
	FragmentChunk = texttotext.FragmentChunk
	CompleteChunk = texttotext.CompleteChunk
)

// Usage and FinishStop are re-exported alongside the chunk constructors
// so a vision loader never needs to import texttotext directly.
type Usage = texttotext.Usage

const FinishStop = texttotext.FinishStop

// ImageSourceKind tags how Request.ImageSource should be interpreted.
type ImageSourceKind int

const (
	ImageSourcePath ImageSourceKind = iota
	ImageSourceURL
)

// Request carries one image + query pair.
type Request struct {
	ImageSource     string
	ImageSourceKind ImageSourceKind
	Query           string
}

// Validate rejects missing image or query before the pool is touched.
func (r Request) Validate() error {
	if r.ImageSource == "" {
		return fmt.Errorf("%w: image source is required", ErrInvalidInput)
	}
	if r.Query == "" {
		return fmt.Errorf("%w: query is required", ErrInvalidInput)
	}
	return nil
}

// ChunkStream is the stream type this capability's methods return.
type ChunkStream = stream.Stream[Chunk]

// Capable is the capability trait every vision model variant implements.
type Capable interface {
	Describe(imageSource string, kind ImageSourceKind, query string) *ChunkStream
}
