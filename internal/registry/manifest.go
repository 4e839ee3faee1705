package registry

import (
	"fmt"
	"os"

	"github.com/bhangun/wayang-inference/internal/registry/descriptor"
	"gopkg.in/yaml.v3"
)

// manifestEntry mirrors one model block in the static YAML manifest. The
// field names match the on-disk schema; they are translated into a
// descriptor.Descriptor by toDescriptor.
type manifestEntry struct {
	Capability      string   `yaml:"capability"`
	Provider        string   `yaml:"provider"`
	Name            string   `yaml:"name"`
	RegistryKey     string   `yaml:"registry_key"`
	QuantizationURL string   `yaml:"quantization_url"`
	ModelPath       string   `yaml:"model_path"`
	EstMemoryMB     int      `yaml:"est_memory_mb"`

	Capabilities struct {
		Streaming       bool `yaml:"streaming"`
		Vision          bool `yaml:"vision"`
		FunctionCalling bool `yaml:"function_calling"`
		Embeddings      bool `yaml:"embeddings"`
		FlashAttention  bool `yaml:"flash_attention"`
		KVCache         bool `yaml:"kv_cache"`
	} `yaml:"capabilities"`

	Hyperparameters struct {
		DefaultTemperature float32 `yaml:"default_temperature"`
		DefaultTopK        int     `yaml:"default_top_k"`
		DefaultTopP        float32 `yaml:"default_top_p"`
		Steps              int     `yaml:"steps"`
		GuidanceScale      float32 `yaml:"guidance_scale"`
		TimeShift          float32 `yaml:"time_shift"`
	} `yaml:"hyperparameters"`

	Modality struct {
		ImageSize       int     `yaml:"image_size"`
		ImageMean       [3]float32 `yaml:"image_mean"`
		ImageStd        [3]float32 `yaml:"image_std"`
		EmbeddingDim    int     `yaml:"embedding_dim"`
		VocabSize       int     `yaml:"vocab_size"`
		MaxInputTokens  int     `yaml:"max_input_tokens"`
		MaxOutputTokens int     `yaml:"max_output_tokens"`
	} `yaml:"modality"`
}

func (e manifestEntry) toDescriptor() *descriptor.Descriptor {
	return &descriptor.Descriptor{
		Provider:              e.Provider,
		Name:                  e.Name,
		RegistryKey:           e.RegistryKey,
		QuantizationURL:       e.QuantizationURL,
		ModelPath:             e.ModelPath,
		EstMemoryAllocationMB: e.EstMemoryMB,
		Capabilities: descriptor.Capabilities{
			Streaming:       e.Capabilities.Streaming,
			Vision:          e.Capabilities.Vision,
			FunctionCalling: e.Capabilities.FunctionCalling,
			Embeddings:      e.Capabilities.Embeddings,
			FlashAttention:  e.Capabilities.FlashAttention,
			KVCache:         e.Capabilities.KVCache,
		},
		Hyperparameters: descriptor.Hyperparameters{
			DefaultTemperature: e.Hyperparameters.DefaultTemperature,
			DefaultTopK:        e.Hyperparameters.DefaultTopK,
			DefaultTopP:        e.Hyperparameters.DefaultTopP,
			Steps:              e.Hyperparameters.Steps,
			GuidanceScale:      e.Hyperparameters.GuidanceScale,
			TimeShift:          e.Hyperparameters.TimeShift,
		},
		Modality: descriptor.Modality{
			ImageSize:       e.Modality.ImageSize,
			ImageMean:       e.Modality.ImageMean,
			ImageStd:        e.Modality.ImageStd,
			EmbeddingDim:    e.Modality.EmbeddingDim,
			VocabSize:       e.Modality.VocabSize,
			MaxInputTokens:  e.Modality.MaxInputTokens,
			MaxOutputTokens: e.Modality.MaxOutputTokens,
		},
	}
}

// manifest is the top-level YAML document shape: one list of model
// entries, each tagged with the capability it belongs under.
type manifest struct {
	Models []manifestEntry `yaml:"models"`
}

// LoadManifest parses a static model descriptor manifest from path,
// grouping the resulting descriptors by capability name. Capability
// names must match the five Cap* constants that RegisterRuntime accepts.
func LoadManifest(path string) (map[string][]*descriptor.Descriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read manifest %s: %w", path, err)
	}

	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("registry: parse manifest %s: %w", path, err)
	}

	out := make(map[string][]*descriptor.Descriptor)
	for _, entry := range m.Models {
		if entry.RegistryKey == "" {
			return nil, fmt.Errorf("registry: manifest entry %q/%q missing registry_key", entry.Provider, entry.Name)
		}
		out[entry.Capability] = append(out[entry.Capability], entry.toDescriptor())
	}
	return out, nil
}
