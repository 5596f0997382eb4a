package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/assistant-gateway/internal/common"
	"github.com/suPer8Hu/assistant-gateway/internal/config"
	"github.com/suPer8Hu/assistant-gateway/internal/httpapi/handlers"
	"github.com/suPer8Hu/assistant-gateway/internal/httpapi/middleware"
	"github.com/suPer8Hu/assistant-gateway/internal/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NewRouter wires every route. ctx bounds background work such as the rate
// limiter's cleanup loop; mc may be nil to disable /metrics.
func NewRouter(ctx context.Context, db *gorm.DB, cfg config.Config, deps handlers.Deps, mc *metrics.Collector) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.Recovery(deps.Logger))
	if mc != nil {
		r.Use(middleware.Metrics(mc))
	}

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	h := handlers.NewHandler(db, cfg, deps)

	r.GET("/ping", h.Ping)
	if mc != nil {
		r.GET("/metrics", gin.WrapH(mc.Handler()))
	}

	// users register
	r.POST("/users", h.CreateUser)

	// auth
	r.POST("/login", h.Login)

	// catalog
	r.GET("/providers", h.ListProviders)
	r.GET("/providers/:provider/models", h.ListProviderModels)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/me", h.Me)

	// settings (JWT required)
	authGroup.GET("/settings", h.GetSettings)
	authGroup.PUT("/settings/field", h.UpdateSettingsField)
	authGroup.PUT("/settings/mode-field", h.UpdateSettingsModeField)
	authGroup.GET("/settings/providers/:provider/form", h.GetProviderForm)

	// Chat (JWT required, per-user rate limit)
	chatGroup := authGroup.Group("/chat")
	chatGroup.Use(middleware.RateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst))
	chatGroup.POST("/sessions", h.CreateChatSession)
	chatGroup.POST("/messages", h.SendChatMessage)
	chatGroup.GET("/sessions/:session_id/messages", h.ListChatMessages)
	chatGroup.POST("/messages/stream", h.SendChatMessageStream)
	chatGroup.POST("/messages/async", h.SendChatMessageAsync)
	chatGroup.GET("/jobs/:job_id", h.GetChatJob)
	return r
}
