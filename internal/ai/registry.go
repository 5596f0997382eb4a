package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// HandlerOptions are the per-request inputs a factory needs: the user's
// credential and the model picked for the session.
type HandlerOptions struct {
	APIKey  string
	ModelID string
	BaseURL string
}

type HandlerFactory func(ctx context.Context, opts HandlerOptions) (ApiHandler, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]HandlerFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]HandlerFactory)}
}

func (r *Registry) Register(name string, f HandlerFactory) {
	name = normalizeProvider(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *Registry) Build(ctx context.Context, name string, opts HandlerOptions) (ApiHandler, error) {
	name = normalizeProvider(name)
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown ai provider: %s", name)
	}
	return f(ctx, opts)
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[normalizeProvider(name)]
	return ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// DefaultsConfig carries the process-wide settings the built-in factories fall back on.
type DefaultsConfig struct {
	Common CommonOptions

	ClarifaiBaseURL string
	ClarifaiAPIKey  string

	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	OpenRouterSiteURL string
	OpenRouterAppName string

	OllamaBaseURL string
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// RegisterBuiltins registers the clarifai, openrouter and ollama factories.
// Per-request options win over the process defaults.
func RegisterBuiltins(r *Registry, d DefaultsConfig) {
	r.Register(ProviderClarifai, func(_ context.Context, o HandlerOptions) (ApiHandler, error) {
		common := d.Common
		common.BaseURL = firstNonEmpty(o.BaseURL, d.ClarifaiBaseURL)
		return NewClarifaiHandler(ClarifaiOptions{
			CommonOptions:  common,
			ClarifaiAPIKey: firstNonEmpty(o.APIKey, d.ClarifaiAPIKey),
			APIModelID:     o.ModelID,
		}), nil
	})

	r.Register(ProviderOpenRouter, func(_ context.Context, o HandlerOptions) (ApiHandler, error) {
		common := d.Common
		common.BaseURL = firstNonEmpty(o.BaseURL, d.OpenRouterBaseURL)
		return NewOpenRouterHandler(OpenRouterOptions{
			CommonOptions: common,
			APIKey:        firstNonEmpty(o.APIKey, d.OpenRouterAPIKey),
			ModelID:       o.ModelID,
			SiteURL:       d.OpenRouterSiteURL,
			AppName:       d.OpenRouterAppName,
		}), nil
	})

	r.Register(ProviderOllama, func(_ context.Context, o HandlerOptions) (ApiHandler, error) {
		common := d.Common
		common.BaseURL = firstNonEmpty(o.BaseURL, d.OllamaBaseURL)
		return NewOllamaHandler(OllamaOptions{CommonOptions: common, ModelID: o.ModelID}), nil
	})
}
