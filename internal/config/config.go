package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// TokenizerConfig selects the tokenizer feeding the hashed embedder.
type TokenizerConfig struct {
	Type     string `yaml:"type"`
	Encoding string `yaml:"encoding,omitempty"`
	Path     string `yaml:"path,omitempty"`
}

// EmbedderConfig configures the hashed bag-of-tokens embedder.
type EmbedderConfig struct {
	Dimension int             `yaml:"dimension"`
	MaxTokens int             `yaml:"max_tokens"`
	Tokenizer TokenizerConfig `yaml:"tokenizer"`
	CacheSize int             `yaml:"cache_size"`
}

// QdrantConfig contains connection details for a Qdrant collection.
type QdrantConfig struct {
	URL        string `yaml:"url"`
	APIKeyEnv  string `yaml:"api_key_env"`
	Collection string `yaml:"collection"`
}

// PineconeConfig contains connection details for a Pinecone index.
type PineconeConfig struct {
	Host      string `yaml:"host"`
	APIKeyEnv string `yaml:"api_key_env"`
	Namespace string `yaml:"namespace"`
}

// PgvectorConfig names the env var holding the Postgres DSN.
type PgvectorConfig struct {
	DSNEnv string `yaml:"dsn_env"`
	Table  string `yaml:"table"`
}

// VectorIndexConfig selects and configures the vector index backend.
type VectorIndexConfig struct {
	Type        string          `yaml:"type"`
	TimeoutSecs int             `yaml:"timeout_secs"`
	Qdrant      *QdrantConfig   `yaml:"qdrant,omitempty"`
	Pinecone    *PineconeConfig `yaml:"pinecone,omitempty"`
	Pgvector    *PgvectorConfig `yaml:"pgvector,omitempty"`
}

type ResolverConfig struct {
	MinScore    float64 `yaml:"min_score"`
	TimeoutSecs int     `yaml:"timeout_secs"`
	Concurrency int     `yaml:"concurrency"`
}

type SyncConfig struct {
	BatchSize         int     `yaml:"batch_size"`
	Concurrency       int     `yaml:"concurrency"`
	MaxDeleteAttempts int     `yaml:"max_delete_attempts"`
	MaxDeletePasses   int     `yaml:"max_delete_passes"`
	RetryInitialMs    int     `yaml:"retry_initial_ms"`
	RetryMaxMs        int     `yaml:"retry_max_ms"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	MetricsFile       string  `yaml:"metrics_file,omitempty"`
}

type DatasetConfig struct {
	Type  string `yaml:"type"`
	Path  string `yaml:"path"`
	Table string `yaml:"table,omitempty"`
}

type LLMConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Embedder    EmbedderConfig    `yaml:"embedder"`
	VectorIndex VectorIndexConfig `yaml:"vector_index"`
	Resolver    ResolverConfig    `yaml:"resolver"`
	Sync        SyncConfig        `yaml:"sync"`
	Dataset     DatasetConfig     `yaml:"dataset"`
	LLM         LLMConfig         `yaml:"llm"`
	Log         LogConfig         `yaml:"log"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// LoadDefault tries ./labrec.yaml first, then ~/.config/labrec/config.yaml.
// If neither exists, it writes defaults to ~/.config/labrec/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "labrec.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects unknown backend names and missing backend sections.
func (c *AppConfig) Validate() error {
	switch c.VectorIndex.Type {
	case "memory":
	case "qdrant":
		if c.VectorIndex.Qdrant == nil || c.VectorIndex.Qdrant.URL == "" {
			return errors.New("vector_index.qdrant.url is required")
		}
	case "pinecone":
		if c.VectorIndex.Pinecone == nil || c.VectorIndex.Pinecone.Host == "" {
			return errors.New("vector_index.pinecone.host is required")
		}
	case "pgvector":
		if c.VectorIndex.Pgvector == nil {
			return errors.New("vector_index.pgvector section is required")
		}
	default:
		return fmt.Errorf("unknown vector index: %s", c.VectorIndex.Type)
	}
	switch c.Dataset.Type {
	case "csv", "sqlite":
	default:
		return fmt.Errorf("unknown dataset type: %s", c.Dataset.Type)
	}
	switch c.Embedder.Tokenizer.Type {
	case "tiktoken":
	case "huggingface":
		if c.Embedder.Tokenizer.Path == "" {
			return errors.New("embedder.tokenizer.path is required for huggingface")
		}
	default:
		return fmt.Errorf("unknown tokenizer: %s", c.Embedder.Tokenizer.Type)
	}
	if c.Resolver.MinScore < 0 || c.Resolver.MinScore > 1 {
		return fmt.Errorf("resolver.min_score must be within [0, 1], got %v", c.Resolver.MinScore)
	}
	return nil
}

func (c *AppConfig) IndexTimeout() time.Duration {
	return time.Duration(c.VectorIndex.TimeoutSecs) * time.Second
}

func (c SyncConfig) RetryInitial() time.Duration {
	return time.Duration(c.RetryInitialMs) * time.Millisecond
}

func (c SyncConfig) RetryMax() time.Duration {
	return time.Duration(c.RetryMaxMs) * time.Millisecond
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "labrec", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		VectorIndex: VectorIndexConfig{Type: "memory"},
		Dataset:     DatasetConfig{Type: "csv", Path: "data/lab_tests.csv"},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	e := &cfg.Embedder
	if e.Dimension == 0 {
		e.Dimension = 1536
	}
	if e.MaxTokens == 0 {
		e.MaxTokens = 8191
	}
	if e.Tokenizer.Type == "" {
		e.Tokenizer.Type = "tiktoken"
	}
	if e.Tokenizer.Type == "tiktoken" && e.Tokenizer.Encoding == "" {
		e.Tokenizer.Encoding = "cl100k_base"
	}
	if e.CacheSize == 0 {
		e.CacheSize = 1024
	}

	v := &cfg.VectorIndex
	if v.Type == "" {
		v.Type = "memory"
	}
	if v.TimeoutSecs == 0 {
		v.TimeoutSecs = 10
	}
	if v.Qdrant != nil {
		if v.Qdrant.APIKeyEnv == "" {
			v.Qdrant.APIKeyEnv = "QDRANT_API_KEY"
		}
		if v.Qdrant.Collection == "" {
			v.Qdrant.Collection = "lab_tests"
		}
	}
	if v.Pinecone != nil && v.Pinecone.APIKeyEnv == "" {
		v.Pinecone.APIKeyEnv = "PINECONE_API_KEY"
	}
	if v.Pgvector != nil {
		if v.Pgvector.DSNEnv == "" {
			v.Pgvector.DSNEnv = "DATABASE_URL"
		}
		if v.Pgvector.Table == "" {
			v.Pgvector.Table = "catalog_entries"
		}
	}

	if cfg.Resolver.TimeoutSecs == 0 {
		cfg.Resolver.TimeoutSecs = 10
	}
	if cfg.Resolver.Concurrency == 0 {
		cfg.Resolver.Concurrency = 4
	}

	s := &cfg.Sync
	if s.BatchSize == 0 {
		s.BatchSize = 100
	}
	if s.Concurrency == 0 {
		s.Concurrency = 4
	}
	if s.MaxDeleteAttempts == 0 {
		s.MaxDeleteAttempts = 5
	}
	if s.MaxDeletePasses == 0 {
		s.MaxDeletePasses = 50
	}
	if s.RetryInitialMs == 0 {
		s.RetryInitialMs = 500
	}
	if s.RetryMaxMs == 0 {
		s.RetryMaxMs = 10000
	}

	if cfg.Dataset.Type == "" {
		cfg.Dataset.Type = "csv"
	}

	l := &cfg.LLM
	if l.BaseURL == "" {
		l.BaseURL = "https://api.openai.com/v1"
	}
	if l.APIKeyEnv == "" {
		l.APIKeyEnv = "OPENAI_API_KEY"
	}
	if l.Model == "" {
		l.Model = "gpt-4o-mini"
	}
	if l.TimeoutSecs == 0 {
		l.TimeoutSecs = 30
	}
	if l.MaxRetries == 0 {
		l.MaxRetries = 5
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
