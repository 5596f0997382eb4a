package settings

import (
	"strings"

	"github.com/suPer8Hu/assistant-gateway/internal/ai"
)

const DefaultProvider = ai.ProviderClarifai

type NormalizedConfig struct {
	SelectedProvider  string       `json:"selectedProvider"`
	SelectedModelID   string       `json:"selectedModelId"`
	SelectedModelInfo ai.ModelInfo `json:"selectedModelInfo"`
}

// NormalizeApiConfiguration resolves the provider and model for mode. An
// empty or unknown provider becomes clarifai; a model id the catalog does
// not know becomes the provider's default.
func NormalizeApiConfiguration(cfg ApiConfiguration, mode Mode, catalog *ai.Catalog) NormalizedConfig {
	if catalog == nil {
		catalog = ai.DefaultCatalog()
	}

	provider := strings.ToLower(strings.TrimSpace(cfg.Provider(mode)))
	if _, ok := catalog.Default(provider); !ok {
		provider = DefaultProvider
	}

	ref := catalog.Resolve(provider, cfg.ModelID(mode))
	return NormalizedConfig{
		SelectedProvider:  provider,
		SelectedModelID:   ref.ID,
		SelectedModelInfo: ref.Info,
	}
}
