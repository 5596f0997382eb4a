package settings

import (
	"fmt"
	"strings"

	"github.com/suPer8Hu/assistant-gateway/internal/ai"
)

type FormOptions struct {
	ShowModelOptions bool `json:"showModelOptions"`
	IsPopup          bool `json:"isPopup"`
	Mode             Mode `json:"mode"`
}

type ApiKeyField struct {
	HelpText      string `json:"helpText"`
	InitialValue  string `json:"initialValue"`
	OnChangeField string `json:"onChangeField"`
	ProviderName  string `json:"providerName"`
	SignupURL     string `json:"signupUrl"`
}

type ModelOption struct {
	ID   string       `json:"id"`
	Info ai.ModelInfo `json:"info"`
}

type ModelSelector struct {
	Label           string        `json:"label"`
	Models          []ModelOption `json:"models"`
	SelectedModelID string        `json:"selectedModelId"`
	OnChangeFields  ModeFields    `json:"onChangeFields"`
}

type ModelInfoView struct {
	IsPopup         bool         `json:"isPopup"`
	ModelInfo       ai.ModelInfo `json:"modelInfo"`
	SelectedModelID string       `json:"selectedModelId"`
}

// ProviderForm is the declarative settings form for one provider. The
// model widgets are nil unless model options were requested.
type ProviderForm struct {
	Provider      string         `json:"provider"`
	Mode          Mode           `json:"mode"`
	ApiKeyField   ApiKeyField    `json:"apiKeyField"`
	ModelSelector *ModelSelector `json:"modelSelector,omitempty"`
	ModelInfoView *ModelInfoView `json:"modelInfoView,omitempty"`
}

const apiKeyHelpText = "This key is stored locally and only used to make API requests from this extension."

type providerFormDef struct {
	provider     string
	providerName string
	signupURL    string
	keyField     string
	key          func(ApiConfiguration) string
}

var formDefs = map[string]providerFormDef{
	ai.ProviderClarifai: {
		provider:     ai.ProviderClarifai,
		providerName: "Clarifai",
		signupURL:    "https://clarifai.com/signup",
		keyField:     FieldClarifaiAPIKey,
		key:          func(c ApiConfiguration) string { return c.ClarifaiAPIKey },
	},
	ai.ProviderOpenRouter: {
		provider:     ai.ProviderOpenRouter,
		providerName: "OpenRouter",
		signupURL:    "https://openrouter.ai/keys",
		keyField:     FieldOpenRouterAPIKey,
		key:          func(c ApiConfiguration) string { return c.OpenRouterAPIKey },
	},
}

// ClarifaiProviderForm builds the Clarifai settings form: a personal access
// token field and, when requested, a model picker bound to the mode's model
// field plus an info panel for the selected model.
func ClarifaiProviderForm(cfg ApiConfiguration, opts FormOptions, catalog *ai.Catalog) ProviderForm {
	return buildForm(formDefs[ai.ProviderClarifai], cfg, opts, catalog)
}

// BuildProviderForm builds the form for any provider that takes an API key.
func BuildProviderForm(provider string, cfg ApiConfiguration, opts FormOptions, catalog *ai.Catalog) (ProviderForm, error) {
	def, ok := formDefs[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return ProviderForm{}, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	return buildForm(def, cfg, opts, catalog), nil
}

func buildForm(def providerFormDef, cfg ApiConfiguration, opts FormOptions, catalog *ai.Catalog) ProviderForm {
	if catalog == nil {
		catalog = ai.DefaultCatalog()
	}
	if opts.Mode == "" {
		opts.Mode = ModePlan
	}

	form := ProviderForm{
		Provider: def.provider,
		Mode:     opts.Mode,
		ApiKeyField: ApiKeyField{
			HelpText:      apiKeyHelpText,
			InitialValue:  MaskSecret(def.key(cfg)),
			OnChangeField: def.keyField,
			ProviderName:  def.providerName,
			SignupURL:     def.signupURL,
		},
	}
	if !opts.ShowModelOptions {
		return form
	}

	selected := catalog.Resolve(def.provider, cfg.ModelID(opts.Mode))
	models := catalog.Models(def.provider)
	options := make([]ModelOption, 0, len(models))
	for _, id := range catalog.ModelIDs(def.provider) {
		options = append(options, ModelOption{ID: id, Info: models[id]})
	}

	form.ModelSelector = &ModelSelector{
		Label:           "Model",
		Models:          options,
		SelectedModelID: selected.ID,
		OnChangeFields:  ModelIDFields,
	}
	form.ModelInfoView = &ModelInfoView{
		IsPopup:         opts.IsPopup,
		ModelInfo:       selected.Info,
		SelectedModelID: selected.ID,
	}
	return form
}
