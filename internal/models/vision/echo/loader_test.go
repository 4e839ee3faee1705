package echo

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bhangun/wayang-inference/internal/capability/texttotext"
	"github.com/bhangun/wayang-inference/internal/capability/vision"
	"github.com/bhangun/wayang-inference/internal/registry/descriptor"
	"github.com/bhangun/wayang-inference/internal/stream"
)

func TestInferStreamsFragmentsThenCompletes(t *testing.T) {
	loaded, err := Load(context.Background(), &descriptor.Descriptor{Name: "echo-vision"})
	require.NoError(t, err)

	req := vision.Request{ImageSource: "http://example.invalid/cat.png", ImageSourceKind: vision.ImageSourceURL, Query: "what is this"}

	st := stream.New[vision.Chunk](16, func(sink stream.Sender[vision.Chunk]) {
		loaded.Infer(context.Background(), req, sink)
	})

	chunks := st.Drain(context.Background())
	require.NotEmpty(t, chunks)

	last := chunks[len(chunks)-1]
	assert.Equal(t, texttotext.KindComplete, last.Kind)
	assert.Equal(t, texttotext.FinishStop, last.FinishReason)

	var text strings.Builder
	for _, c := range chunks[:len(chunks)-1] {
		assert.Equal(t, texttotext.KindFragment, c.Kind)
		text.WriteString(c.Fragment)
	}
	assert.Contains(t, text.String(), "remote image")
	assert.Contains(t, text.String(), "what is this")
}

func TestDescribeSourceDistinguishesPathFromURL(t *testing.T) {
	assert.Equal(t, "remote image", describeSource(vision.Request{ImageSourceKind: vision.ImageSourceURL}))
	assert.Equal(t, "local image", describeSource(vision.Request{ImageSourceKind: vision.ImageSourcePath}))
}
