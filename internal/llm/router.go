package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RouterConfig configures the provider router
type RouterConfig struct {
	// Clients in priority order slots
	OpenAI     Client
	Azure      Client
	OpenRouter Client

	// Fallback behavior
	EnableFallback bool
}

// Router routes requests to the first configured provider, in fixed
// priority order: openai, azure, openrouter. On error it can fall back
// to the remaining configured providers.
type Router struct {
	providers      []Client
	enableFallback bool

	// Stats
	mu    sync.RWMutex
	stats RouterStats
}

// RouterStats tracks router usage
type RouterStats struct {
	RequestsByProvider map[string]int64
	FallbackCount      int64
	FailureCount       int64
	AverageLatencyMs   int64
}

// NewRouter creates a new provider router
func NewRouter(cfg RouterConfig) *Router {
	providers := make([]Client, 0, 3)
	for _, c := range []Client{cfg.OpenAI, cfg.Azure, cfg.OpenRouter} {
		if c != nil {
			providers = append(providers, c)
		}
	}

	return &Router{
		providers:      providers,
		enableFallback: cfg.EnableFallback,
		stats: RouterStats{
			RequestsByProvider: make(map[string]int64),
		},
	}
}

// NewRouterWithClients builds a router over an explicit provider list,
// kept in the given order. Used by tests to inject fakes.
func NewRouterWithClients(enableFallback bool, clients ...Client) *Router {
	return &Router{
		providers:      clients,
		enableFallback: enableFallback,
		stats: RouterStats{
			RequestsByProvider: make(map[string]int64),
		},
	}
}

// RouteResponse contains the response and metadata
type RouteResponse struct {
	Content     string
	Provider    string
	LatencyMs   int64
	WasFallback bool
}

// IsAvailable reports whether any provider is configured
func (r *Router) IsAvailable() bool {
	for _, p := range r.providers {
		if p.IsConfigured() {
			return true
		}
	}
	return false
}

// Route sends a request to the highest-priority configured provider,
// falling back down the list when enabled.
func (r *Router) Route(ctx context.Context, req Request) (*RouteResponse, error) {
	primary := r.selectProvider()
	if primary == nil {
		return nil, fmt.Errorf("no reasoning provider configured")
	}

	start := time.Now()

	content, err := primary.Complete(ctx, req)
	if err == nil {
		latency := time.Since(start).Milliseconds()
		r.updateStats(primary.Name(), latency)
		return &RouteResponse{
			Content:   content,
			Provider:  primary.Name(),
			LatencyMs: latency,
		}, nil
	}

	if !r.enableFallback {
		r.recordFailure()
		return nil, err
	}

	for _, p := range r.providers {
		if p == primary || !p.IsConfigured() {
			continue
		}
		content, ferr := p.Complete(ctx, req)
		if ferr != nil {
			continue
		}
		latency := time.Since(start).Milliseconds()
		r.mu.Lock()
		r.stats.FallbackCount++
		r.mu.Unlock()
		r.updateStats(p.Name(), latency)
		return &RouteResponse{
			Content:     content,
			Provider:    p.Name(),
			LatencyMs:   latency,
			WasFallback: true,
		}, nil
	}

	r.recordFailure()
	return nil, fmt.Errorf("all providers failed: %w", err)
}

// selectProvider returns the first configured provider in priority order
func (r *Router) selectProvider() Client {
	for _, p := range r.providers {
		if p.IsConfigured() {
			return p
		}
	}
	return nil
}

func (r *Router) recordFailure() {
	r.mu.Lock()
	r.stats.FailureCount++
	r.mu.Unlock()
}

// updateStats updates router statistics
func (r *Router) updateStats(provider string, latencyMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.RequestsByProvider[provider]++

	var total int64
	for _, n := range r.stats.RequestsByProvider {
		total += n
	}
	// Simple moving average
	r.stats.AverageLatencyMs = (r.stats.AverageLatencyMs*(total-1) + latencyMs) / total
}

// GetStats returns a copy of router statistics
func (r *Router) GetStats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byProvider := make(map[string]int64, len(r.stats.RequestsByProvider))
	for k, v := range r.stats.RequestsByProvider {
		byProvider[k] = v
	}
	return RouterStats{
		RequestsByProvider: byProvider,
		FallbackCount:      r.stats.FallbackCount,
		FailureCount:       r.stats.FailureCount,
		AverageLatencyMs:   r.stats.AverageLatencyMs,
	}
}

// HealthCheck reports the configured state of every provider
func (r *Router) HealthCheck() map[string]bool {
	health := make(map[string]bool, len(r.providers))
	for _, p := range r.providers {
		health[p.Name()] = p.IsConfigured()
	}
	return health
}
