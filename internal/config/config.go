// Package config provides configuration loading and structs for the recall server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvLLMHost   = "OLLAMA_HOST"
	EnvAPIKey    = "OPENAI_API_KEY"
	EnvDBPath    = "RECALL_DB_PATH"
	EnvIndexPath = "RECALL_INDEX_PATH"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	RAG       RAGConfig       `yaml:"rag"`
	Inbox     InboxConfig     `yaml:"inbox"`
}

// InboxConfig holds the directories watched for exported message files.
type InboxConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *InboxConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// ChatRatePerSec limits /chat requests per second; zero or negative disables the limiter.
	ChatRatePerSec float64 `yaml:"chat_rate_per_sec"`
	ChatBurst      int     `yaml:"chat_burst"`
}

// StorageConfig holds paths for the message database, the vector snapshot and the keyword index.
type StorageConfig struct {
	DatabasePath     string `yaml:"database_path"`
	IndexPath        string `yaml:"index_path"`
	KeywordIndexPath string `yaml:"keyword_index_path"`
}

// LLMConfig holds the OpenAI-compatible endpoint used for chat and embeddings.
type LLMConfig struct {
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	ChatModel      string        `yaml:"chat_model"`
	EmbeddingModel string        `yaml:"embedding_model"`
	Temperature    float32       `yaml:"temperature"`
	TopP           float32       `yaml:"top_p"`
	MaxTokens      int           `yaml:"max_tokens"`
	EmbedTimeout   time.Duration `yaml:"embed_timeout"`
	ChatTimeout    time.Duration `yaml:"chat_timeout"`
}

// EmbeddingConfig holds vector settings.
type EmbeddingConfig struct {
	Dimensions int `yaml:"dimensions"`
	CacheSize  int `yaml:"cache_size"`
}

// RAGConfig holds retrieval and bootstrap settings.
type RAGConfig struct {
	TopK            int  `yaml:"top_k"`
	MaxContextChars int  `yaml:"max_context_chars"`
	WarmLimit       int  `yaml:"warm_limit"`
	AlwaysWarm      bool `yaml:"always_warm"`
}

// Load reads and parses the config file at path, expands paths, applies defaults and
// environment overrides. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	ApplyEnv(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.IndexPath = expandPath(cfg.Storage.IndexPath, configDir)
	cfg.Storage.KeywordIndexPath = expandPath(cfg.Storage.KeywordIndexPath, configDir)
	for i := range cfg.Inbox.Directories {
		cfg.Inbox.Directories[i] = expandPath(cfg.Inbox.Directories[i], configDir)
	}

	return &cfg, nil
}

// ApplyEnv overrides settings from environment variables. A bare OLLAMA_HOST such as
// "http://localhost:11434" gets the /v1 suffix of the OpenAI-compatible API.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(EnvLLMHost); v != "" {
		v = strings.TrimRight(v, "/")
		if !strings.HasSuffix(v, "/v1") {
			v += "/v1"
		}
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.Storage.DatabasePath = v
	}
	if v := os.Getenv(EnvIndexPath); v != "" {
		cfg.Storage.IndexPath = v
	}
}

// Save writes the config to path. Used by the init command.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. ":memory:" is kept as is.
func expandPath(path string, configDir string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
