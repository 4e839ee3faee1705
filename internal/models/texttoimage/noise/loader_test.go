package noise

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bhangun/wayang-inference/internal/capability/texttoimage"
	"github.com/bhangun/wayang-inference/internal/registry/descriptor"
	"github.com/bhangun/wayang-inference/internal/stream"
)

func TestInferEmitsStepChunksThenTerminalTensor(t *testing.T) {
	loaded, err := Load(context.Background(), &descriptor.Descriptor{Name: "noise-gen"})
	require.NoError(t, err)

	req := texttoimage.Request{
		Prompt: "a cube",
		Config: texttoimage.Config{Width: 4, Height: 4, Steps: 3, Seed: 42},
	}

	st := stream.New[texttoimage.Chunk](8, func(sink stream.Sender[texttoimage.Chunk]) {
		loaded.Infer(context.Background(), req, sink)
	})

	chunks := st.Drain(context.Background())
	require.Len(t, chunks, 4)

	for i := 0; i < 3; i++ {
		assert.Equal(t, texttoimage.KindStep, chunks[i].Kind)
		assert.Equal(t, i+1, chunks[i].StepIndex)
		assert.Equal(t, 3, chunks[i].StepTotal)
	}

	last := chunks[3]
	assert.Equal(t, texttoimage.KindComplete, last.Kind)
	assert.Equal(t, 4, last.Image.Width)
	assert.Equal(t, 4, last.Image.Height)
	assert.Equal(t, 3, last.Image.Channels)
	assert.Len(t, last.Image.Data, 4*4*3)
}

func TestInferIsDeterministicForSameSeed(t *testing.T) {
	loaded, _ := Load(context.Background(), &descriptor.Descriptor{Name: "noise-gen"})
	req := texttoimage.Request{Prompt: "x", Config: texttoimage.Config{Width: 2, Height: 2, Steps: 1, Seed: 7}}

	run := func() texttoimage.Tensor {
		st := stream.New[texttoimage.Chunk](4, func(sink stream.Sender[texttoimage.Chunk]) {
			loaded.Infer(context.Background(), req, sink)
		})
		chunks := st.Drain(context.Background())
		return chunks[len(chunks)-1].Image
	}

	assert.Equal(t, run().Data, run().Data)
}
