// Package config loads tool configuration from defaults, a YAML file
// in the data directory, and VECTAB_* environment variables, in that
// order of increasing priority.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/garyhukkeri/vectab/internal/embed"
)

const (
	// DefaultDataDir is the default directory name for vectab data
	DefaultDataDir = ".vectab"
	// DefaultConfigFile is the default config filename
	DefaultConfigFile = "config.yaml"
)

// Config holds the application configuration
type Config struct {
	// DataDir is the directory where vectab stores config and local
	// databases
	DataDir string `mapstructure:"data_dir" yaml:"data_dir,omitempty"`
	// Location is the default database location, a local directory or
	// an s3:// URI
	Location string `mapstructure:"location" yaml:"location,omitempty"`

	// Embedding configuration
	Embedding EmbeddingConfig `mapstructure:"embedding" yaml:"embedding,omitempty"`

	// Models is the embedding model registry. Empty means the built-in
	// registry.
	Models []embed.ModelSpec `mapstructure:"models" yaml:"models,omitempty"`

	// Inference configuration for schema detection
	Inference InferenceConfig `mapstructure:"inference" yaml:"inference,omitempty"`

	// Storage engine tuning
	Storage StorageConfig `mapstructure:"storage" yaml:"storage,omitempty"`

	// Server configuration
	Server ServerConfig `mapstructure:"server" yaml:"server,omitempty"`
}

// EmbeddingConfig holds embedding provider settings
type EmbeddingConfig struct {
	// DefaultModel is the registry model used when a request names none
	DefaultModel string `mapstructure:"default_model" yaml:"default_model,omitempty"`
	// OllamaURL is the Ollama API URL
	OllamaURL string `mapstructure:"ollama_url" yaml:"ollama_url,omitempty"`
	// BatchSize is the number of rows embedded per provider call
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size,omitempty"`
	// CacheSize is the per-provider LRU embedding cache capacity
	CacheSize int `mapstructure:"cache_size" yaml:"cache_size,omitempty"`

	// OpenAIAPIKey comes from OPENAI_API_KEY or VECTAB_OPENAI_API_KEY.
	// It is held in memory only and never written back to the config
	// file.
	OpenAIAPIKey string `mapstructure:"openai_api_key" yaml:"-"`
	// OpenAIBaseURL is the base URL for the OpenAI API
	OpenAIBaseURL string `mapstructure:"openai_base_url" yaml:"openai_base_url,omitempty"`
}

// InferenceConfig controls how column types are inferred from data
type InferenceConfig struct {
	// MinVectorLength is the shortest numeric list treated as a vector
	MinVectorLength int `mapstructure:"min_vector_length" yaml:"min_vector_length,omitempty"`
	// RequireUniform demands one shared length before a column is a
	// vector
	RequireUniform bool `mapstructure:"require_uniform" yaml:"require_uniform"`
}

// StorageConfig holds storage engine settings
type StorageConfig struct {
	// AnnThreshold is the row count above which search uses the
	// approximate index for candidates
	AnnThreshold int `mapstructure:"ann_threshold" yaml:"ann_threshold,omitempty"`
	// OpenRetries is how many times opening the database is retried
	OpenRetries int `mapstructure:"open_retries" yaml:"open_retries,omitempty"`
	// RetryIntervalMS is the wait between open retries in milliseconds
	RetryIntervalMS int `mapstructure:"retry_interval_ms" yaml:"retry_interval_ms,omitempty"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	// Host is the server bind address
	Host string `mapstructure:"host" yaml:"host,omitempty"`
	// Port is the server port
	Port int `mapstructure:"port" yaml:"port,omitempty"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		DataDir:  DefaultDataDir,
		Location: DefaultDataDir,
		Embedding: EmbeddingConfig{
			DefaultModel: "nomic-embed-text",
			OllamaURL:    "http://localhost:11434",
			BatchSize:    32,
			CacheSize:    512,
		},
		Inference: InferenceConfig{
			MinVectorLength: 2,
			RequireUniform:  true,
		},
		Storage: StorageConfig{
			AnnThreshold:    5000,
			OpenRetries:     3,
			RetryIntervalMS: 250,
		},
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
	}
}

// Load reads configuration for a project directory: defaults, then
// the config file under the data directory, then environment
// variables.
func Load(projectDir string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(projectDir, DefaultDataDir))
	v.AddConfigPath(".")

	v.SetEnvPrefix("VECTAB")
	v.AutomaticEnv()

	_ = v.BindEnv("location", "VECTAB_LOCATION")
	_ = v.BindEnv("embedding.default_model", "VECTAB_EMBEDDING_MODEL")
	_ = v.BindEnv("embedding.ollama_url", "VECTAB_OLLAMA_URL")
	_ = v.BindEnv("embedding.openai_api_key", "VECTAB_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("embedding.openai_base_url", "VECTAB_OPENAI_BASE_URL", "OPENAI_BASE_URL")
	_ = v.BindEnv("server.host", "VECTAB_HOST")
	_ = v.BindEnv("server.port", "VECTAB_PORT")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	if !filepath.IsAbs(cfg.DataDir) {
		cfg.DataDir = filepath.Join(projectDir, cfg.DataDir)
	}
	if cfg.Location == DefaultDataDir {
		cfg.Location = cfg.DataDir
	}

	return cfg, nil
}

// EnsureDataDir creates the data directory if it doesn't exist
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0755)
}

// WriteDefaultConfig writes the config file to the data directory.
// An existing file is left alone. Credential fields are excluded by
// their yaml tags and never end up in the file.
func (c *Config) WriteDefaultConfig() error {
	configPath := filepath.Join(c.DataDir, DefaultConfigFile)

	if _, err := os.Stat(configPath); err == nil {
		return nil
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(configPath, data, 0644)
}

// RegistryConfig builds the embedding registry configuration from the
// loaded settings.
func (c *Config) RegistryConfig() embed.RegistryConfig {
	models := c.Models
	if len(models) == 0 {
		models = embed.DefaultModels()
	}
	for i := range models {
		if models[i].Provider == "ollama" && models[i].BaseURL == "" {
			models[i].BaseURL = c.Embedding.OllamaURL
		}
		if models[i].Provider == "openai" && models[i].BaseURL == "" {
			models[i].BaseURL = c.Embedding.OpenAIBaseURL
		}
	}
	return embed.RegistryConfig{
		Models:       models,
		CacheSize:    c.Embedding.CacheSize,
		OpenAIAPIKey: c.Embedding.OpenAIAPIKey,
	}
}
