package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/assistant-gateway/internal/common"
	"github.com/suPer8Hu/assistant-gateway/internal/settings"
	"go.uber.org/zap"
)

func (h *Handler) failSettingsError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, settings.ErrUnknownField):
		common.Fail(c, http.StatusBadRequest, 40010, err.Error())
	case errors.Is(err, settings.ErrInvalidMode):
		common.Fail(c, http.StatusBadRequest, 40003, err.Error())
	case errors.Is(err, settings.ErrUnknownProvider):
		common.Fail(c, http.StatusBadRequest, 40011, err.Error())
	case errors.Is(err, settings.ErrInvalidValue):
		common.Fail(c, http.StatusBadRequest, 40012, err.Error())
	default:
		h.Logger.Error("settings request failed", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50010, "settings unavailable")
	}
}

func parseModeQuery(c *gin.Context) (settings.Mode, error) {
	raw := c.Query("mode")
	if raw == "" {
		return settings.ModePlan, nil
	}
	return settings.ParseMode(raw)
}

// GetSettings returns the masked configuration plus the resolved selection
// for both modes.
func (h *Handler) GetSettings(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	cfg, err := h.Settings.Get(c.Request.Context(), uid)
	if err != nil {
		h.failSettingsError(c, err)
		return
	}

	common.OK(c, gin.H{
		"api_configuration": cfg.Masked(),
		"plan":              settings.NormalizeApiConfiguration(cfg, settings.ModePlan, h.Catalog),
		"act":               settings.NormalizeApiConfiguration(cfg, settings.ModeAct, h.Catalog),
	})
}

type fieldChangeReq struct {
	Field string `json:"field" binding:"required"`
	Value string `json:"value"`
}

func (h *Handler) UpdateSettingsField(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req fieldChangeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	cfg, err := h.Settings.HandleFieldChange(c.Request.Context(), uid, req.Field, req.Value)
	if err != nil {
		h.failSettingsError(c, err)
		return
	}
	common.OK(c, gin.H{"api_configuration": cfg.Masked()})
}

type modeFieldChangeReq struct {
	Fields settings.ModeFields `json:"fields"`
	Value  string              `json:"value"`
	Mode   string              `json:"mode" binding:"required"`
}

func (h *Handler) UpdateSettingsModeField(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req modeFieldChangeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Fields == (settings.ModeFields{}) {
		req.Fields = settings.ModelIDFields
	}

	cfg, err := h.Settings.HandleModeFieldChange(c.Request.Context(), uid, req.Fields, req.Value, settings.Mode(req.Mode))
	if err != nil {
		h.failSettingsError(c, err)
		return
	}
	common.OK(c, gin.H{"api_configuration": cfg.Masked()})
}

// GetProviderForm serves the declarative settings form for one provider.
func (h *Handler) GetProviderForm(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	mode, err := parseModeQuery(c)
	if err != nil {
		h.failSettingsError(c, err)
		return
	}
	showModels, _ := strconv.ParseBool(c.DefaultQuery("show_model_options", "true"))
	popup, _ := strconv.ParseBool(c.Query("popup"))

	form, err := h.Settings.ProviderForm(c.Request.Context(), uid, c.Param("provider"), settings.FormOptions{
		ShowModelOptions: showModels,
		IsPopup:          popup,
		Mode:             mode,
	})
	if err != nil {
		h.failSettingsError(c, err)
		return
	}
	common.OK(c, form)
}
