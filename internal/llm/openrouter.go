package llm

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"
)

// OpenRouterClient calls the OpenRouter chat completions API
type OpenRouterClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// OpenRouterConfig for OpenRouter
type OpenRouterConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// DefaultOpenRouterConfig returns sensible defaults
func DefaultOpenRouterConfig() OpenRouterConfig {
	return OpenRouterConfig{
		APIKey:  os.Getenv("OPENROUTER_API_KEY"),
		BaseURL: "https://openrouter.ai/api",
		Model:   "openai/gpt-4o-mini",
		Timeout: 30 * time.Second,
	}
}

// NewOpenRouterClient creates a new OpenRouter client
func NewOpenRouterClient(cfg OpenRouterConfig) *OpenRouterClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openrouter.ai/api"
	}
	if cfg.Model == "" {
		cfg.Model = "openai/gpt-4o-mini"
	}
	// OpenRouter model names carry a provider prefix
	if !strings.Contains(cfg.Model, "/") {
		cfg.Model = "openai/" + cfg.Model
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &OpenRouterClient{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Complete sends a completion request
func (c *OpenRouterClient) Complete(ctx context.Context, req Request) (string, error) {
	return postChat(ctx, c.httpClient, c.baseURL+"/v1/chat/completions",
		map[string]string{"Authorization": "Bearer " + c.apiKey},
		chatRequest{
			Model:       c.model,
			Messages:    buildMessages(req),
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		})
}

// IsConfigured checks if API key is set
func (c *OpenRouterClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Name returns the provider name
func (c *OpenRouterClient) Name() string {
	return "openrouter"
}
