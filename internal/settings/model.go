package settings

import (
	"strings"
	"time"

	"github.com/suPer8Hu/assistant-gateway/internal/ai"
)

type Mode string

const (
	ModePlan Mode = "plan"
	ModeAct  Mode = "act"
)

// ParseMode accepts "plan" or "act" in any case.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModePlan:
		return ModePlan, nil
	case ModeAct:
		return ModeAct, nil
	}
	return "", ErrInvalidMode
}

// ApiConfiguration is one user's provider settings. Plan and act mode each
// pick their own provider and model.
type ApiConfiguration struct {
	UserID uint64 `gorm:"primaryKey;autoIncrement:false" json:"userId"`

	PlanModeApiProvider string `gorm:"type:varchar(32)" json:"planModeApiProvider"`
	ActModeApiProvider  string `gorm:"type:varchar(32)" json:"actModeApiProvider"`
	PlanModeApiModelID  string `gorm:"type:varchar(255)" json:"planModeApiModelId"`
	ActModeApiModelID   string `gorm:"type:varchar(255)" json:"actModeApiModelId"`

	ClarifaiAPIKey   string `gorm:"type:varchar(255)" json:"clarifaiApiKey"`
	OpenRouterAPIKey string `gorm:"type:varchar(255)" json:"openRouterApiKey"`
	OllamaBaseURL    string `gorm:"type:varchar(255)" json:"ollamaBaseUrl"`

	UpdatedAt time.Time `json:"updatedAt"`
}

func (ApiConfiguration) TableName() string { return "api_configurations" }

func (c ApiConfiguration) Provider(mode Mode) string {
	if mode == ModeAct {
		return c.ActModeApiProvider
	}
	return c.PlanModeApiProvider
}

func (c ApiConfiguration) ModelID(mode Mode) string {
	if mode == ModeAct {
		return c.ActModeApiModelID
	}
	return c.PlanModeApiModelID
}

// APIKey returns the stored credential for provider, if any.
func (c ApiConfiguration) APIKey(provider string) string {
	switch strings.ToLower(provider) {
	case ai.ProviderClarifai:
		return c.ClarifaiAPIKey
	case ai.ProviderOpenRouter:
		return c.OpenRouterAPIKey
	}
	return ""
}

// HandlerOptions is what the provider registry needs to build a handler for mode.
func (c ApiConfiguration) HandlerOptions(provider, modelID string) ai.HandlerOptions {
	opts := ai.HandlerOptions{APIKey: c.APIKey(provider), ModelID: modelID}
	if strings.EqualFold(provider, ai.ProviderOllama) {
		opts.BaseURL = c.OllamaBaseURL
	}
	return opts
}

// Masked returns a copy safe to send to clients.
func (c ApiConfiguration) Masked() ApiConfiguration {
	c.ClarifaiAPIKey = MaskSecret(c.ClarifaiAPIKey)
	c.OpenRouterAPIKey = MaskSecret(c.OpenRouterAPIKey)
	return c
}

// MaskSecret keeps the last four characters of keys longer than eight.
func MaskSecret(s string) string {
	r := []rune(s)
	switch {
	case len(r) == 0:
		return ""
	case len(r) <= 8:
		return "********"
	default:
		return "********" + string(r[len(r)-4:])
	}
}
