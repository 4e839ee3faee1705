package hashembed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bhangun/wayang-inference/internal/capability/textembedding"
	"github.com/bhangun/wayang-inference/internal/registry/descriptor"
	"github.com/bhangun/wayang-inference/internal/stream"
)

func TestEmbedIsDeterministicAndNormalized(t *testing.T) {
	v1 := embed("hello world", 64)
	v2 := embed("hello world", 64)
	assert.Equal(t, v1, v2)

	var sumSq float64
	for _, x := range v1 {
		sumSq += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSq), 1e-4)
}

func TestEmbedDiffersByInput(t *testing.T) {
	assert.NotEqual(t, embed("alpha", 32), embed("beta", 32))
}

func TestLoadDefaultsDimension(t *testing.T) {
	loaded, err := Load(context.Background(), &descriptor.Descriptor{Name: "dim-default"})
	require.NoError(t, err)
	assert.Equal(t, 256, loaded.(*Loaded).dim)
}

func TestInferEmitsOneResultChunkPerInputBatch(t *testing.T) {
	loaded, err := Load(context.Background(), &descriptor.Descriptor{
		Name:     "test-model",
		Modality: descriptor.Modality{EmbeddingDim: 8},
	})
	require.NoError(t, err)

	st := stream.New[textembedding.Chunk](1, func(sink stream.Sender[textembedding.Chunk]) {
		loaded.Infer(context.Background(), textembedding.Request{Texts: []string{"a", "b"}}, sink)
	})

	chunk, ok := st.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, textembedding.KindResult, chunk.Kind)
	assert.Equal(t, "test-model", chunk.Model)
	require.Len(t, chunk.Vectors, 2)
	assert.Len(t, chunk.Vectors[0], 8)

	_, ok = st.Next(context.Background())
	assert.False(t, ok)
}
