package config

import "time"

// Defaults for settings left unset in the config file.
const (
	DefaultTopK            = 8
	DefaultMaxContextChars = 6000
	DefaultWarmLimit       = 1000
	DefaultDimensions      = 768
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ChatBurst == 0 {
		cfg.Server.ChatBurst = 4
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/recall/data/messages.db"
	}
	if cfg.Storage.IndexPath == "" {
		cfg.Storage.IndexPath = "/usr/local/var/recall/data/messages.idx"
	}
	if cfg.Storage.KeywordIndexPath == "" {
		cfg.Storage.KeywordIndexPath = "/usr/local/var/recall/data/messages.bleve"
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "http://localhost:11434/v1"
	}
	if cfg.LLM.ChatModel == "" {
		cfg.LLM.ChatModel = "qwen2.5:7b"
	}
	if cfg.LLM.EmbeddingModel == "" {
		cfg.LLM.EmbeddingModel = "nomic-embed-text"
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.3
	}
	if cfg.LLM.TopP == 0 {
		cfg.LLM.TopP = 0.9
	}
	if cfg.LLM.EmbedTimeout == 0 {
		cfg.LLM.EmbedTimeout = 10 * time.Second
	}
	if cfg.LLM.ChatTimeout == 0 {
		cfg.LLM.ChatTimeout = 60 * time.Second
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = DefaultDimensions
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = DefaultTopK
	}
	if cfg.RAG.MaxContextChars == 0 {
		cfg.RAG.MaxContextChars = DefaultMaxContextChars
	}
	if cfg.RAG.WarmLimit == 0 {
		cfg.RAG.WarmLimit = DefaultWarmLimit
	}
	if cfg.Inbox.Extensions == nil {
		cfg.Inbox.Extensions = []string{".jsonl"}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Inbox.Directories) > 0 && cfg.Inbox.Recursive == nil {
		t := true
		cfg.Inbox.Recursive = &t
	}
}
