package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/assistant-gateway/internal/common"
	"github.com/suPer8Hu/assistant-gateway/internal/settings"
)

func (h *Handler) ListProviders(c *gin.Context) {
	common.OK(c, gin.H{"providers": h.Registry.Names()})
}

func (h *Handler) ListProviderModels(c *gin.Context) {
	provider := c.Param("provider")
	def, ok := h.Catalog.Default(provider)
	if !ok {
		common.Fail(c, http.StatusNotFound, 40403, "provider not found")
		return
	}

	models := h.Catalog.Models(provider)
	out := make([]settings.ModelOption, 0, len(models))
	for _, id := range h.Catalog.ModelIDs(provider) {
		out = append(out, settings.ModelOption{ID: id, Info: models[id]})
	}
	common.OK(c, gin.H{
		"provider":      provider,
		"default_model": def.ID,
		"models":        out,
	})
}
