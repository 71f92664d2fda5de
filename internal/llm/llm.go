package llm

import (
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/shapeschat/internal/config"
)

// NewClient creates an OpenAI-compatible client for the Shapes API using apiKey.
func NewClient(cfg config.ShapesConfig, apiKey string) *openai.Client {
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = cfg.BaseURL
	config.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return openai.NewClientWithConfig(config)
}
