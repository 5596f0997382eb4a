package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/assistant-gateway/internal/ai"
	"github.com/suPer8Hu/assistant-gateway/internal/chat"
	"github.com/suPer8Hu/assistant-gateway/internal/common"
	"github.com/suPer8Hu/assistant-gateway/internal/config"
	"github.com/suPer8Hu/assistant-gateway/internal/httpapi/middleware"
	"github.com/suPer8Hu/assistant-gateway/internal/settings"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// JobPublisher enqueues async chat jobs; *rabbitmq.Publisher implements it.
type JobPublisher interface {
	PublishJob(ctx context.Context, jobID string) error
}

type Deps struct {
	Registry  *ai.Registry
	Catalog   *ai.Catalog
	Cache     settings.Cache
	Publisher JobPublisher
	Logger    *zap.Logger
}

type Handler struct {
	DB       *gorm.DB
	Cfg      config.Config
	ChatSvc  *chat.Service
	Settings *settings.Service
	Registry *ai.Registry
	Catalog  *ai.Catalog
	Rabbit   JobPublisher
	Logger   *zap.Logger
}

func NewHandler(db *gorm.DB, cfg config.Config, d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Catalog == nil {
		d.Catalog = ai.DefaultCatalog()
	}

	settingsSvc := settings.NewService(settings.NewRepo(db), d.Cache, cfg.SettingsCacheTTL, d.Catalog, d.Logger,
		settings.WithOllamaHosts(cfg.OllamaAllowedHosts...),
	)
	chatSvc := chat.NewService(chat.NewRepo(db), d.Registry, cfg.ChatContextWindowSize,
		chat.WithSettings(settingsSvc),
		chat.WithCatalog(d.Catalog),
		chat.WithSystemPrompt(cfg.SystemPrompt),
		chat.WithLogger(d.Logger),
	)

	return &Handler{
		DB:       db,
		Cfg:      cfg,
		ChatSvc:  chatSvc,
		Settings: settingsSvc,
		Registry: d.Registry,
		Catalog:  d.Catalog,
		Rabbit:   d.Publisher,
		Logger:   d.Logger.With(zap.String("component", "http")),
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	return middleware.UserID(c)
}

// failChatError maps service errors onto the response envelope.
func (h *Handler) failChatError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		common.Fail(c, http.StatusNotFound, 40004, "session not found")
	case errors.Is(err, chat.ErrUnsupportedProvider):
		common.Fail(c, http.StatusBadRequest, 40002, err.Error())
	case errors.Is(err, settings.ErrInvalidMode):
		common.Fail(c, http.StatusBadRequest, 40003, err.Error())
	case errors.Is(err, ai.ErrClarifaiTokenRequired), errors.Is(err, ai.ErrOpenRouterKeyRequired):
		common.Fail(c, http.StatusBadRequest, 40005, err.Error())
	case ai.IsRateLimit(err):
		common.Fail(c, http.StatusTooManyRequests, 42901, "provider rate limit exceeded")
	default:
		h.Logger.Error(op+" failed", zap.String("request_id", middleware.RequestIDFrom(c)), zap.Error(err))
		common.Fail(c, http.StatusBadGateway, 50200, op+" failed")
	}
}
