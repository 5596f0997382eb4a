package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/assistant-gateway/internal/ai"
	"github.com/suPer8Hu/assistant-gateway/internal/chat"
	"github.com/suPer8Hu/assistant-gateway/internal/config"
	"github.com/suPer8Hu/assistant-gateway/internal/db"
	"github.com/suPer8Hu/assistant-gateway/internal/logging"
	"github.com/suPer8Hu/assistant-gateway/internal/settings"
	"github.com/suPer8Hu/assistant-gateway/internal/store/rabbitmq"
	"github.com/suPer8Hu/assistant-gateway/internal/store/redisstore"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat).With(zap.String("service", "worker"))
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(cfg.DBDSN, logger)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	if err := db.Migrate(gdb); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}

	catalog := ai.NewCatalog(logger)
	if cfg.CatalogFile != "" {
		go func() {
			if err := catalog.Watch(ctx, cfg.CatalogFile); err != nil {
				logger.Error("catalog watcher stopped", zap.Error(err))
			}
		}()
	}

	// Provider registry (route by session.Provider + session.Model)
	reg := ai.NewRegistry()
	ai.RegisterBuiltins(reg, ai.DefaultsConfig{
		Common: ai.CommonOptions{
			HTTPClient: &http.Client{Timeout: 5 * time.Minute},
			Logger:     logger,
			Catalog:    catalog,
			Retry:      ai.DefaultRetryOptions(),
		},
		ClarifaiBaseURL:   cfg.ClarifaiBaseURL,
		ClarifaiAPIKey:    cfg.ClarifaiAPIKey,
		OpenRouterBaseURL: cfg.OpenRouterBaseURL,
		OpenRouterAPIKey:  cfg.OpenRouterAPIKey,
		OpenRouterSiteURL: cfg.OpenRouterSiteURL,
		OpenRouterAppName: cfg.OpenRouterAppName,
		OllamaBaseURL:     cfg.OllamaBaseURL,
	})

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

	repo := chat.NewRepo(gdb)
	settingsSvc := settings.NewService(settings.NewRepo(gdb), cache, cfg.SettingsCacheTTL, catalog, logger,
		settings.WithOllamaHosts(cfg.OllamaAllowedHosts...),
	)
	svc := chat.NewService(repo, reg, cfg.ChatContextWindowSize,
		chat.WithSettings(settingsSvc),
		chat.WithCatalog(catalog),
		chat.WithSystemPrompt(cfg.SystemPrompt),
		chat.WithLogger(logger),
	)

	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue, logger)
	if err != nil {
		logger.Fatal("rabbit publisher", zap.Error(err))
	}
	defer pub.Close()

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		logger.Fatal("rabbit dial", zap.Error(err))
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("rabbit channel", zap.Error(err))
	}
	defer ch.Close()

	queues := rabbitmq.QueuesFor(cfg.RabbitQueue)
	if err := rabbitmq.DeclareTopology(ch, queues); err != nil {
		logger.Fatal("queue declare", zap.Error(err))
	}

	//  strict concurrency control
	concurrency := cfg.WorkerConcurrency

	if err := ch.Qos(concurrency, 0, false); err != nil {
		logger.Fatal("qos", zap.Error(err))
	}

	msgs, err := ch.Consume(queues.Main, "", false, false, false, false, nil)
	if err != nil {
		logger.Fatal("consume", zap.Error(err))
	}

	logger.Info("worker started", zap.String("queue", queues.Main), zap.Int("concurrency", concurrency))

	p := &processor{svc: svc, repo: repo, retry: pub, logger: logger}

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				p.handleDelivery(ctx, workerID, d)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				logger.Warn("delivery channel closed")
				close(jobs)
				wg.Wait()
				return
			}
			jobs <- d
		}
	}
}
