package llm

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"
)

// AzureClient calls an Azure OpenAI deployment
type AzureClient struct {
	apiKey     string
	endpoint   string
	deployment string
	apiVersion string
	httpClient *http.Client
}

// AzureConfig for Azure OpenAI
type AzureConfig struct {
	APIKey     string
	Endpoint   string // e.g. https://myresource.openai.azure.com
	Deployment string
	APIVersion string
	Timeout    time.Duration
}

// DefaultAzureConfig returns sensible defaults
func DefaultAzureConfig() AzureConfig {
	return AzureConfig{
		APIKey:     os.Getenv("AZURE_OPENAI_API_KEY"),
		Endpoint:   os.Getenv("AZURE_OPENAI_ENDPOINT"),
		Deployment: "gpt-4o-mini",
		APIVersion: "2024-02-15-preview",
		Timeout:    30 * time.Second,
	}
}

// NewAzureClient creates a new Azure OpenAI client
func NewAzureClient(cfg AzureConfig) *AzureClient {
	if cfg.Deployment == "" {
		cfg.Deployment = "gpt-4o-mini"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-02-15-preview"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &AzureClient{
		apiKey:     cfg.APIKey,
		endpoint:   cfg.Endpoint,
		deployment: cfg.Deployment,
		apiVersion: cfg.APIVersion,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Complete sends a completion request
func (c *AzureClient) Complete(ctx context.Context, req Request) (string, error) {
	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		c.endpoint, c.deployment, c.apiVersion)

	// Azure selects the model by deployment, not by request field
	return postChat(ctx, c.httpClient, url,
		map[string]string{"api-key": c.apiKey},
		chatRequest{
			Messages:    buildMessages(req),
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		})
}

// IsConfigured checks if key and endpoint are set
func (c *AzureClient) IsConfigured() bool {
	return c.apiKey != "" && c.endpoint != ""
}

// Name returns the provider name
func (c *AzureClient) Name() string {
	return "azure"
}
