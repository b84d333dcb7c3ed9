package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Corpus        CorpusConfig        `mapstructure:"corpus"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Rerank        RerankConfig        `mapstructure:"rerank"`
	Vector        VectorConfig        `mapstructure:"vector"`
	Graph         GraphConfig         `mapstructure:"graph"`
	Temporal      TemporalConfig      `mapstructure:"temporal"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Server        ServerConfig        `mapstructure:"server"`
	Secrets       SecretsConfig       `mapstructure:"secrets"`
	Log           LogConfig           `mapstructure:"log"`
}

type CorpusConfig struct {
	Dir            string `mapstructure:"dir"`
	Subject        string `mapstructure:"subject"`
	ManifestPath   string `mapstructure:"manifest_path"`
	SparseArtifact string `mapstructure:"sparse_artifact"`
}

type EmbeddingConfig struct {
	// Models lists the embedding models to index with and query through.
	// All models share one collection, so their dimensions must agree.
	Models []EmbeddingModel `mapstructure:"models"`
}

// EmbeddingModel configures one embedding model. Unset provider fields
// inherit from the top-level LLM config.
type EmbeddingModel struct {
	Name      string `mapstructure:"name"`
	Dimension int    `mapstructure:"dimension"`
	Provider  string `mapstructure:"provider"`
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
}

type LLMConfig struct {
	Provider    string  `mapstructure:"provider"`
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// Resolve returns provider settings for the model with unset fields
// inherited from the answering LLM config.
func (m EmbeddingModel) Resolve(base LLMConfig) EmbeddingModel {
	resolved := m
	if resolved.Provider == "" {
		resolved.Provider = base.Provider
	}
	if resolved.APIKey == "" {
		resolved.APIKey = base.APIKey
	}
	if resolved.BaseURL == "" {
		resolved.BaseURL = base.BaseURL
	}
	return resolved
}

type RerankConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
}

type VectorConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
}

type GraphConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type TemporalConfig struct {
	Host      string `mapstructure:"host"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type ObservabilityConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
	AuditLog     string `mapstructure:"audit_log"`
}

// ServerConfig configures the worker's HTTP sidecar (health + metrics).
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type SecretsConfig struct {
	Provider     string `mapstructure:"provider"`
	FilePath     string `mapstructure:"file_path"`
	VaultAddress string `mapstructure:"vault_address"`
	VaultToken   string `mapstructure:"vault_token"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	if c.LLM.Provider != "" && c.LLM.Provider != "none" && c.LLM.APIKey == "" {
		warnings = append(warnings, fmt.Sprintf("LLM provider '%s' is configured but api_key is empty", c.LLM.Provider))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2.0 {
		warnings = append(warnings, fmt.Sprintf("LLM temperature %.2f is outside recommended range [0.0, 2.0]", c.LLM.Temperature))
	}
	if c.LLM.MaxTokens < 0 {
		warnings = append(warnings, fmt.Sprintf("LLM max_tokens %d is negative", c.LLM.MaxTokens))
	}

	for _, m := range c.Embedding.Models {
		if m.Name == "" {
			warnings = append(warnings, "embedding model with empty name")
			continue
		}
		if m.Dimension <= 0 {
			warnings = append(warnings, fmt.Sprintf("embedding model '%s' has no dimension configured", m.Name))
		}
	}

	if c.Graph.Enabled && c.Graph.URI == "" {
		warnings = append(warnings, "graph store enabled but uri is empty")
	}

	return warnings
}

// ModelNames returns the configured embedding model names in listed order.
func (c *Config) ModelNames() []string {
	names := make([]string, len(c.Embedding.Models))
	for i, m := range c.Embedding.Models {
		names[i] = m.Name
	}
	return names
}

// Load reads configuration from file and environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("SAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("corpus.manifest_path", "ingestion_manifest.json")
	v.SetDefault("corpus.sparse_artifact", "bm25_model.json")
	v.SetDefault("vector.host", "localhost")
	v.SetDefault("vector.port", 6334)
	v.SetDefault("vector.collection", "sage")
	v.SetDefault("temporal.host", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "sage-ingest")
	v.SetDefault("server.addr", ":8088")
	v.SetDefault("secrets.provider", "env")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if warnings := cfg.Validate(); len(warnings) > 0 {
		for _, warning := range warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
	}

	return &cfg, nil
}
