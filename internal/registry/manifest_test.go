package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleManifest = `
models:
  - capability: text_to_text
    provider: llamacpp
    name: llama-3-8b-instruct
    registry_key: llama-3-8b-instruct-q4
    quantization_url: https://example.invalid/llama-3-8b-q4.gguf
    model_path: /models/llama-3-8b-q4.gguf
    est_memory_mb: 6500
    capabilities:
      streaming: true
      function_calling: true
    hyperparameters:
      default_temperature: 0.7
      default_top_k: 40
      default_top_p: 0.9
    modality:
      vocab_size: 128000
      max_input_tokens: 8192
      max_output_tokens: 2048
  - capability: text_embedding
    provider: hashembed
    name: dim-256-hash
    registry_key: hashembed-256
    est_memory_mb: 64
    modality:
      embedding_dim: 256
`

func writeManifest(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadManifestGroupsByCapability(t *testing.T) {
	path := writeManifest(t, sampleManifest)

	byCap, err := LoadManifest(path)
	require.NoError(t, err)

	require.Len(t, byCap[CapTextToText], 1)
	d := byCap[CapTextToText][0]
	assert.Equal(t, "llama-3-8b-instruct-q4", d.RegistryKey)
	assert.Equal(t, 6500, d.EstMemoryAllocationMB)
	assert.True(t, d.Capabilities.Streaming)
	assert.True(t, d.Capabilities.FunctionCalling)
	assert.Equal(t, float32(0.7), d.Hyperparameters.DefaultTemperature)
	assert.Equal(t, 8192, d.Modality.MaxInputTokens)

	require.Len(t, byCap[CapTextEmbedding], 1)
	assert.Equal(t, 256, byCap[CapTextEmbedding][0].Modality.EmbeddingDim)
}

func TestLoadManifestMissingRegistryKey(t *testing.T) {
	path := writeManifest(t, `
models:
  - capability: text_to_text
    provider: llamacpp
    name: unnamed
`)
	_, err := LoadManifest(path)
	require.Error(t, err)
}

func TestLoadManifestMissingFile(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}
