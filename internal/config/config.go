// Package config handles WorkLens configuration.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config holds all configuration
type Config struct {
	// Paths
	DataDir string `json:"data_dir"`

	// Server
	Server ServerConfig `json:"server"`

	// Owner identity, used for self-exclusion during extraction
	Owner OwnerConfig `json:"owner"`

	// Reasoning providers
	OpenAI     OpenAIConfig     `json:"openai"`
	Azure      AzureConfig      `json:"azure"`
	OpenRouter OpenRouterConfig `json:"openrouter"`

	// Selection engine tuning
	Selection SelectionConfig `json:"selection"`
}

// ServerConfig for HTTP server
type ServerConfig struct {
	Port int    `json:"port"`
	Host string `json:"host"`
}

// OwnerConfig identifies the user whose own messages never become actions
type OwnerConfig struct {
	Address string   `json:"address"`
	Aliases []string `json:"aliases"` // Display names and handles
}

// OpenAIConfig for the OpenAI API
type OpenAIConfig struct {
	APIKey string `json:"api_key"`
	Model  string `json:"model"`
}

// AzureConfig for Azure OpenAI
type AzureConfig struct {
	APIKey     string `json:"api_key"`
	Endpoint   string `json:"endpoint"`
	Deployment string `json:"deployment"`
	APIVersion string `json:"api_version"`
}

// OpenRouterConfig for OpenRouter
type OpenRouterConfig struct {
	APIKey string `json:"api_key"`
	Model  string `json:"model"`
}

// SelectionConfig tunes the top-N selection engine
type SelectionConfig struct {
	TopN             int     `json:"top_n"`
	CacheTTLSeconds  int     `json:"cache_ttl_seconds"`
	FailureThreshold int     `json:"failure_threshold"`
	ProviderTimeout  float64 `json:"provider_timeout_seconds"`
}

// Default returns default configuration
func Default() *Config {
	home, _ := os.UserHomeDir()

	return &Config{
		DataDir: filepath.Join(home, ".worklens"),
		Server: ServerConfig{
			Port: 8090,
			Host: "localhost",
		},
		Owner: OwnerConfig{},
		OpenAI: OpenAIConfig{
			APIKey: os.Getenv("OPENAI_API_KEY"),
			Model:  "gpt-4o-mini",
		},
		Azure: AzureConfig{
			APIKey:     os.Getenv("AZURE_OPENAI_API_KEY"),
			Endpoint:   os.Getenv("AZURE_OPENAI_ENDPOINT"),
			Deployment: "gpt-4o-mini",
			APIVersion: "2024-02-15-preview",
		},
		OpenRouter: OpenRouterConfig{
			APIKey: os.Getenv("OPENROUTER_API_KEY"),
			Model:  "openai/gpt-4o-mini",
		},
		Selection: SelectionConfig{
			TopN:             3,
			CacheTTLSeconds:  300,
			FailureThreshold: 3,
			ProviderTimeout:  30,
		},
	}
}

// Load loads config from file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = filepath.Join(cfg.DataDir, "config.json")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Use defaults
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// API keys from env always win over the file
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.OpenAI.APIKey = key
	}
	if key := os.Getenv("AZURE_OPENAI_API_KEY"); key != "" {
		cfg.Azure.APIKey = key
	}
	if endpoint := os.Getenv("AZURE_OPENAI_ENDPOINT"); endpoint != "" {
		cfg.Azure.Endpoint = endpoint
	}
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		cfg.OpenRouter.APIKey = key
	}

	cfg.clamp()

	return cfg, nil
}

// clamp keeps tuning values inside sane bounds instead of failing
func (c *Config) clamp() {
	if c.Selection.TopN <= 0 {
		c.Selection.TopN = 3
	}
	if c.Selection.CacheTTLSeconds <= 0 {
		c.Selection.CacheTTLSeconds = 300
	}
	if c.Selection.FailureThreshold <= 0 {
		c.Selection.FailureThreshold = 3
	}
	if c.Selection.ProviderTimeout <= 0 {
		c.Selection.ProviderTimeout = 30
	}
}

// Save saves config to file
func (c *Config) Save(path string) error {
	if path == "" {
		path = filepath.Join(c.DataDir, "config.json")
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	// Don't save API keys to file
	safeCfg := *c
	safeCfg.OpenAI.APIKey = ""
	safeCfg.Azure.APIKey = ""
	safeCfg.OpenRouter.APIKey = ""

	data, err := json.MarshalIndent(safeCfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}
