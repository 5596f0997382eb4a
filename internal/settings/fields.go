package settings

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	FieldClarifaiAPIKey      = "clarifaiApiKey"
	FieldOpenRouterAPIKey    = "openRouterApiKey"
	FieldOllamaBaseURL       = "ollamaBaseUrl"
	FieldPlanModeApiProvider = "planModeApiProvider"
	FieldActModeApiProvider  = "actModeApiProvider"
	FieldPlanModeApiModelID  = "planModeApiModelId"
	FieldActModeApiModelID   = "actModeApiModelId"
)

// ModeFields names the per-mode variants of one setting.
type ModeFields struct {
	Plan string `json:"plan"`
	Act  string `json:"act"`
}

func (f ModeFields) For(mode Mode) (string, error) {
	switch mode {
	case ModePlan:
		return f.Plan, nil
	case ModeAct:
		return f.Act, nil
	}
	return "", ErrInvalidMode
}

var (
	ModelIDFields  = ModeFields{Plan: FieldPlanModeApiModelID, Act: FieldActModeApiModelID}
	ProviderFields = ModeFields{Plan: FieldPlanModeApiProvider, Act: FieldActModeApiProvider}
)

type fieldDef struct {
	column string
	set    func(*ApiConfiguration, string)
	// nil accepts anything
	validate func(string) error
}

var fields = map[string]fieldDef{
	FieldClarifaiAPIKey: {
		column: "clarifai_api_key",
		set:    func(c *ApiConfiguration, v string) { c.ClarifaiAPIKey = v },
	},
	FieldOpenRouterAPIKey: {
		column: "open_router_api_key",
		set:    func(c *ApiConfiguration, v string) { c.OpenRouterAPIKey = v },
	},
	FieldOllamaBaseURL: {
		column:   "ollama_base_url",
		set:      func(c *ApiConfiguration, v string) { c.OllamaBaseURL = v },
		validate: validateBaseURL,
	},
	FieldPlanModeApiProvider: {
		column: "plan_mode_api_provider",
		set:    func(c *ApiConfiguration, v string) { c.PlanModeApiProvider = v },
	},
	FieldActModeApiProvider: {
		column: "act_mode_api_provider",
		set:    func(c *ApiConfiguration, v string) { c.ActModeApiProvider = v },
	},
	FieldPlanModeApiModelID: {
		column: "plan_mode_api_model_id",
		set:    func(c *ApiConfiguration, v string) { c.PlanModeApiModelID = v },
	},
	FieldActModeApiModelID: {
		column: "act_mode_api_model_id",
		set:    func(c *ApiConfiguration, v string) { c.ActModeApiModelID = v },
	},
}

func isProviderField(name string) bool {
	return name == FieldPlanModeApiProvider || name == FieldActModeApiProvider
}

// empty clears the override
func validateBaseURL(v string) error {
	if v == "" {
		return nil
	}
	u, err := url.Parse(v)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q is not an http(s) url", ErrInvalidValue, v)
	}
	return nil
}

func lookupField(name string) (fieldDef, error) {
	f, ok := fields[strings.TrimSpace(name)]
	if !ok {
		return fieldDef{}, fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return f, nil
}
