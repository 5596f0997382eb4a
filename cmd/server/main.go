package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/assistant-gateway/internal/ai"
	"github.com/suPer8Hu/assistant-gateway/internal/config"
	"github.com/suPer8Hu/assistant-gateway/internal/db"
	"github.com/suPer8Hu/assistant-gateway/internal/httpapi"
	"github.com/suPer8Hu/assistant-gateway/internal/httpapi/handlers"
	"github.com/suPer8Hu/assistant-gateway/internal/logging"
	"github.com/suPer8Hu/assistant-gateway/internal/metrics"
	"github.com/suPer8Hu/assistant-gateway/internal/settings"
	"github.com/suPer8Hu/assistant-gateway/internal/store/rabbitmq"
	"github.com/suPer8Hu/assistant-gateway/internal/store/redisstore"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat).With(zap.String("service", "server"))
	defer func() { _ = logger.Sync() }()

	if cfg.LogFormat != "console" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(cfg.DBDSN, logger)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	if err := db.Migrate(gdb); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}

	var cache settings.Cache
	if cfg.RedisAddr != "" {
		rs, err := redisstore.New(ctx, redisstore.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}, logger)
		if err != nil {
			logger.Warn("redis unavailable, settings cache disabled", zap.Error(err))
		} else {
			defer rs.Close()
			cache = rs
		}
	}

	var publisher handlers.JobPublisher
	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue, logger)
		if err != nil {
			logger.Warn("rabbitmq unavailable, async chat disabled", zap.Error(err))
		} else {
			defer pub.Close()
			publisher = pub
		}
	}

	catalog := ai.NewCatalog(logger)
	mc := metrics.NewCollector(cfg.MetricsNamespace, logger)

	reg := ai.NewRegistry()
	ai.RegisterBuiltins(reg, ai.DefaultsConfig{
		Common: ai.CommonOptions{
			HTTPClient: &http.Client{Timeout: 5 * time.Minute},
			Logger:     logger,
			Catalog:    catalog,
			Retry:      ai.DefaultRetryOptions(),
			Observer:   mc,
		},
		ClarifaiBaseURL:   cfg.ClarifaiBaseURL,
		ClarifaiAPIKey:    cfg.ClarifaiAPIKey,
		OpenRouterBaseURL: cfg.OpenRouterBaseURL,
		OpenRouterAPIKey:  cfg.OpenRouterAPIKey,
		OpenRouterSiteURL: cfg.OpenRouterSiteURL,
		OpenRouterAppName: cfg.OpenRouterAppName,
		OllamaBaseURL:     cfg.OllamaBaseURL,
	})

	g, gctx := errgroup.WithContext(ctx)

	r := httpapi.NewRouter(gctx, gdb, cfg, handlers.Deps{
		Registry:  reg,
		Catalog:   catalog,
		Cache:     cache,
		Publisher: publisher,
		Logger:    logger,
	}, mc)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.CatalogFile != "" {
		g.Go(func() error {
			return catalog.Watch(gctx, cfg.CatalogFile)
		})
	}

	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr), zap.String("provider", cfg.AIProvider))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}
