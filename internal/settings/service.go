package settings

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/suPer8Hu/assistant-gateway/internal/ai"
	"github.com/suPer8Hu/assistant-gateway/internal/store/redisstore"
	"go.uber.org/zap"
)

// Cache is the read-through layer in front of the repo. *redisstore.Store
// satisfies it.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) error
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
	SetJSONIfAbsent(ctx context.Context, key string, v any, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
}

type Service struct {
	repo    *Repo
	cache   Cache
	ttl     time.Duration
	catalog *ai.Catalog
	logger  *zap.Logger

	// hosts a user may point ollamaBaseUrl at; empty allows none
	ollamaHosts map[string]struct{}
}

type Option func(*Service)

// WithOllamaHosts allows per-user Ollama base URLs on these hosts. Entries
// are "host" or "host:port".
func WithOllamaHosts(hosts ...string) Option {
	return func(s *Service) {
		for _, h := range hosts {
			if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
				s.ollamaHosts[h] = struct{}{}
			}
		}
	}
}

// NewService wires the settings store. cache may be nil.
func NewService(repo *Repo, cache Cache, ttl time.Duration, catalog *ai.Catalog, logger *zap.Logger, opts ...Option) *Service {
	if catalog == nil {
		catalog = ai.DefaultCatalog()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	s := &Service{
		repo:        repo,
		cache:       cache,
		ttl:         ttl,
		catalog:     catalog,
		logger:      logger.With(zap.String("component", "settings")),
		ollamaHosts: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Catalog() *ai.Catalog { return s.catalog }

func cacheKey(userID uint64) string {
	return "settings:api:" + strconv.FormatUint(userID, 10)
}

// Get returns the user's configuration, served from cache when possible.
// Cache failures fall back to the database.
func (s *Service) Get(ctx context.Context, userID uint64) (ApiConfiguration, error) {
	key := cacheKey(userID)
	if s.cache != nil {
		var cfg ApiConfiguration
		err := s.cache.GetJSON(ctx, key, &cfg)
		if err == nil {
			return s.sanitize(cfg), nil
		}
		if !errors.Is(err, redisstore.ErrCacheMiss) {
			s.logger.Warn("settings cache read failed", zap.Uint64("user_id", userID), zap.Error(err))
		}
	}

	cfg, err := s.repo.Get(ctx, userID)
	if err != nil {
		return ApiConfiguration{}, err
	}
	cfg = s.sanitize(cfg)

	// a write that landed after our read has already stored the newer row
	if s.cache != nil {
		if _, err := s.cache.SetJSONIfAbsent(ctx, key, cfg, s.ttl); err != nil {
			s.logger.Warn("settings cache fill failed", zap.Uint64("user_id", userID), zap.Error(err))
		}
	}
	return cfg, nil
}

// HandleFieldChange stores value into one named field and returns the
// updated configuration.
func (s *Service) HandleFieldChange(ctx context.Context, userID uint64, field, value string) (ApiConfiguration, error) {
	field = strings.TrimSpace(field)
	def, err := lookupField(field)
	if err != nil {
		return ApiConfiguration{}, err
	}

	value = strings.TrimSpace(value)
	if isProviderField(field) {
		value = strings.ToLower(value)
		if _, ok := s.catalog.Default(value); value != "" && !ok {
			return ApiConfiguration{}, fmt.Errorf("%w: %q", ErrUnknownProvider, value)
		}
	}
	if def.validate != nil {
		if err := def.validate(value); err != nil {
			return ApiConfiguration{}, err
		}
	}
	if field == FieldOllamaBaseURL && value != "" && !s.ollamaHostAllowed(value) {
		return ApiConfiguration{}, fmt.Errorf("%w: ollama host of %q is not allowed", ErrInvalidValue, value)
	}

	if err := s.repo.UpdateColumn(ctx, userID, def.column, value); err != nil {
		return ApiConfiguration{}, err
	}

	cfg, err := s.repo.Get(ctx, userID)
	if err != nil {
		s.invalidate(ctx, userID)
		return ApiConfiguration{}, err
	}
	cfg = s.sanitize(cfg)
	s.store(ctx, userID, cfg)

	s.logger.Info("settings field updated", zap.Uint64("user_id", userID), zap.String("field", field))
	return cfg, nil
}

// HandleModeFieldChange stores value into the variant of fields that
// belongs to mode.
func (s *Service) HandleModeFieldChange(ctx context.Context, userID uint64, fields ModeFields, value string, mode Mode) (ApiConfiguration, error) {
	field, err := fields.For(mode)
	if err != nil {
		return ApiConfiguration{}, err
	}
	return s.HandleFieldChange(ctx, userID, field, value)
}

// Normalized resolves the user's provider and model for mode.
func (s *Service) Normalized(ctx context.Context, userID uint64, mode Mode) (NormalizedConfig, error) {
	cfg, err := s.Get(ctx, userID)
	if err != nil {
		return NormalizedConfig{}, err
	}
	return NormalizeApiConfiguration(cfg, mode, s.catalog), nil
}

func (s *Service) ProviderForm(ctx context.Context, userID uint64, provider string, opts FormOptions) (ProviderForm, error) {
	cfg, err := s.Get(ctx, userID)
	if err != nil {
		return ProviderForm{}, err
	}
	return BuildProviderForm(provider, cfg, opts, s.catalog)
}

// store writes cfg through to the cache. If that fails the entry is dropped
// so the next read reloads it.
func (s *Service) store(ctx context.Context, userID uint64, cfg ApiConfiguration) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetJSON(ctx, cacheKey(userID), cfg, s.ttl); err != nil {
		s.logger.Warn("settings cache write failed", zap.Uint64("user_id", userID), zap.Error(err))
		s.invalidate(ctx, userID)
	}
}

func (s *Service) ollamaHostAllowed(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	if _, ok := s.ollamaHosts[strings.ToLower(u.Host)]; ok {
		return true
	}
	_, ok := s.ollamaHosts[strings.ToLower(u.Hostname())]
	return ok
}

// sanitize drops an Ollama override whose host is not (or no longer) allowed,
// so handlers fall back to the server's own Ollama URL.
func (s *Service) sanitize(cfg ApiConfiguration) ApiConfiguration {
	if cfg.OllamaBaseURL != "" && !s.ollamaHostAllowed(cfg.OllamaBaseURL) {
		cfg.OllamaBaseURL = ""
	}
	return cfg
}

func (s *Service) invalidate(ctx context.Context, userID uint64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cacheKey(userID)); err != nil {
		s.logger.Warn("settings cache invalidate failed", zap.Uint64("user_id", userID), zap.Error(err))
	}
}
