package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the server
type Config struct {
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	LLM          LLMConfig          `yaml:"llm" mapstructure:"llm"`
	Logs         LogConfig          `yaml:"logs" mapstructure:"logs"`
	Pool         PoolConfig         `yaml:"pool" mapstructure:"pool"`
	Capabilities CapabilitiesConfig `yaml:"capabilities" mapstructure:"capabilities"`
	ModelManifest string            `yaml:"model_manifest" mapstructure:"model_manifest"`
}

// PoolConfig carries the ambient worker-pool knobs shared by every
// capability pool (spec.md §6's configuration table).
type PoolConfig struct {
	MaxWorkersPerModel     int           `yaml:"max_workers_per_model" mapstructure:"max_workers_per_model"`
	DrainTimeout           time.Duration `yaml:"drain_timeout" mapstructure:"drain_timeout"`
	SpawnWaitTimeout       time.Duration `yaml:"spawn_wait_timeout" mapstructure:"spawn_wait_timeout"`
	SystemMemoryCapFraction float64      `yaml:"system_memory_cap_fraction" mapstructure:"system_memory_cap_fraction"`
	ChannelCapacity        int           `yaml:"channel_capacity" mapstructure:"channel_capacity"`
}

// CapabilitiesConfig holds one enable flag per capability. The flags are
// loaded and defaulted but not consulted: every capability's pool and HTTP
// routes are set up regardless of them.
type CapabilitiesConfig struct {
	TextToText      bool `yaml:"text_to_text" mapstructure:"text_to_text"`
	TextEmbedding   bool `yaml:"text_embedding" mapstructure:"text_embedding"`
	ImageEmbedding  bool `yaml:"image_embedding" mapstructure:"image_embedding"`
	Vision          bool `yaml:"vision" mapstructure:"vision"`
	TextToImage     bool `yaml:"text_to_image" mapstructure:"text_to_image"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host           string        `yaml:"host" mapstructure:"host"`
	Port           int           `yaml:"port" mapstructure:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	MaxRequestSize int64         `yaml:"max_request_size" mapstructure:"max_request_size"`
}

// LLMConfig contains LLM engine configuration
type LLMConfig struct {
	ModelPath      string        `yaml:"model_path" mapstructure:"model_path"`
	ContextSize    int           `yaml:"context_size" mapstructure:"context_size"`
	GPULayers      int           `yaml:"gpu_layers" mapstructure:"gpu_layers"`
	Threads        int           `yaml:"threads" mapstructure:"threads"`
	BatchSize      int           `yaml:"batch_size" mapstructure:"batch_size"`
	WorkerPoolSize int           `yaml:"worker_pool_size" mapstructure:"worker_pool_size"`
	MaxQueueSize   int           `yaml:"max_queue_size" mapstructure:"max_queue_size"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
	UseMMap        bool          `yaml:"use_mmap" mapstructure:"use_mmap"`
	UseMLock       bool          `yaml:"use_mlock" mapstructure:"use_mlock"`
	UseFP16        bool          `yaml:"use_fp16" mapstructure:"use_fp16"`
	Verbose        bool          `yaml:"verbose" mapstructure:"verbose"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	File   string `yaml:"file" mapstructure:"file"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   300 * time.Second, // Longer timeout for streaming
			MaxRequestSize: 10 * 1024 * 1024,  // 10MB
		},
		LLM: LLMConfig{
			ModelPath:      "models/llama-2-7b-chat.q4_0.bin",
			ContextSize:    2048,
			GPULayers:      0, // CPU-only by default
			Threads:        4,
			BatchSize:      512,
			WorkerPoolSize: 2,
			MaxQueueSize:   100,
			RequestTimeout: 5 * time.Minute,
			UseMMap:        true,
			UseMLock:       false,
			UseFP16:        true,
			Verbose:        false,
		},
		Logs: LogConfig{
			Level:  "info",
			Format: "json",
			File:   "",
		},
		Pool: PoolConfig{
			MaxWorkersPerModel:      2,
			DrainTimeout:            5 * time.Second,
			SpawnWaitTimeout:        30 * time.Second,
			SystemMemoryCapFraction: 0.80,
			ChannelCapacity:         32,
		},
		Capabilities: CapabilitiesConfig{
			TextToText:     true,
			TextEmbedding:  true,
			ImageEmbedding: true,
			Vision:         true,
			TextToImage:    true,
		},
		ModelManifest: "models.yaml",
	}
}

// Load loads configuration from file, environment variables, and command line flags
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Set up Viper
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("LLM_SERVER")
	viper.AutomaticEnv()

	// Load from config file if provided
	if configPath != "" {
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Unmarshal into config struct
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Model loading is manifest-driven (see internal/registry.LoadManifest);
	// a missing manifest file is a startup error reported by the loader
	// itself, not here.
	if c.ModelManifest == "" {
		return fmt.Errorf("model_manifest must be set")
	}

	// Validate worker pool size
	if c.LLM.WorkerPoolSize <= 0 {
		return fmt.Errorf("worker pool size must be positive, got: %d", c.LLM.WorkerPoolSize)
	}

	// Validate context size
	if c.LLM.ContextSize <= 0 {
		return fmt.Errorf("context size must be positive, got: %d", c.LLM.ContextSize)
	}

	// Validate GPU layers (can be 0 for CPU-only)
	if c.LLM.GPULayers < 0 {
		return fmt.Errorf("GPU layers must be non-negative, got: %d", c.LLM.GPULayers)
	}

	// Validate port
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	// Validate pool knobs
	if c.Pool.MaxWorkersPerModel <= 0 {
		return fmt.Errorf("pool.max_workers_per_model must be positive, got: %d", c.Pool.MaxWorkersPerModel)
	}
	if c.Pool.SystemMemoryCapFraction <= 0 || c.Pool.SystemMemoryCapFraction > 1 {
		return fmt.Errorf("pool.system_memory_cap_fraction must be in (0, 1], got: %f", c.Pool.SystemMemoryCapFraction)
	}

	return nil
}

// GetServerAddress returns the server address in host:port format
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
