// Package providers implements reasoning-backend adapters for Google,
// OpenAI, and Anthropic APIs. Each adapter builds raw HTTP requests and
// parses raw HTTP responses so status codes stay visible to retry
// classification.
package providers

import (
	"fmt"
	"strings"

	llmerrors "github.com/gradr-ai/gradr/internal/llm/errors"
	"github.com/gradr-ai/gradr/internal/llm/transport"
)

// Supported provider names.
const (
	ProviderGoogle    = "google"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config holds per-provider connection settings.
type Config struct {
	// APIKey authenticates against the provider.
	APIKey string `json:"api_key" yaml:"api_key"`

	// Endpoint overrides the provider's default API base URL. Tests point
	// it at a local stub server.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// Headers are added to every request, e.g. for proxies.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// Router maps provider names to adapters.
type Router struct {
	adapters map[string]transport.ProviderAdapter
}

// NewRouter builds a router over the configured providers. Providers with
// no configuration entry are not registered.
func NewRouter(configs map[string]Config) *Router {
	adapters := make(map[string]transport.ProviderAdapter, len(configs))
	for name, cfg := range configs {
		switch strings.ToLower(name) {
		case ProviderGoogle:
			adapters[ProviderGoogle] = NewGoogleAdapter(cfg)
		case ProviderOpenAI:
			adapters[ProviderOpenAI] = NewOpenAIAdapter(cfg)
		case ProviderAnthropic:
			adapters[ProviderAnthropic] = NewAnthropicAdapter(cfg)
		}
	}
	return &Router{adapters: adapters}
}

// Register adds or replaces an adapter. Tests register stubs this way.
func (r *Router) Register(name string, adapter transport.ProviderAdapter) {
	r.adapters[name] = adapter
}

// Pick implements transport.Router.
func (r *Router) Pick(provider, _ string) (transport.ProviderAdapter, error) {
	adapter, ok := r.adapters[strings.ToLower(provider)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", llmerrors.ErrUnknownProvider, provider)
	}
	return adapter, nil
}
