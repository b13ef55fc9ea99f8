// Package llm talks to an OpenAI-compatible chat completion endpoint.
package llm

import (
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// NewClient returns an OpenAI-compatible client for baseURL. Ollama ignores the API key,
// so an empty key is replaced with a placeholder.
func NewClient(baseURL, apiKey string) *openai.Client {
	if apiKey == "" {
		apiKey = "ollama"
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient = &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        16,
			MaxIdleConnsPerHost: 8,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	return openai.NewClientWithConfig(cfg)
}
