package ai

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type providerModels struct {
	defaultID string
	models    map[string]ModelInfo
}

// Catalog is the model registry shared by handlers and the settings form.
type Catalog struct {
	mu        sync.RWMutex
	providers map[string]*providerModels
	logger    *zap.Logger
}

// NewCatalog returns a catalog seeded with the built-in model tables.
func NewCatalog(logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		logger: logger.With(zap.String("component", "catalog")),
		providers: map[string]*providerModels{
			ProviderClarifai:   {defaultID: ClarifaiDefaultModelID, models: cloneModels(ClarifaiModels)},
			ProviderOpenRouter: {defaultID: OpenRouterDefaultModelID, models: cloneModels(OpenRouterModels)},
			ProviderOllama:     {defaultID: OllamaDefaultModelID, models: cloneModels(OllamaModels)},
		},
	}
}

var defaultCatalog = NewCatalog(nil)

// DefaultCatalog is used by handlers built without an explicit catalog.
func DefaultCatalog() *Catalog { return defaultCatalog }

func normalizeProvider(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// Models returns a copy of the provider's models.
func (c *Catalog) Models(provider string) map[string]ModelInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.providers[normalizeProvider(provider)]
	if !ok {
		return map[string]ModelInfo{}
	}
	return cloneModels(p.models)
}

// ModelIDs returns the provider's model ids, sorted.
func (c *Catalog) ModelIDs(provider string) []string {
	models := c.Models(provider)
	ids := make([]string, 0, len(models))
	for id := range models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Catalog) Lookup(provider, id string) (ModelInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.providers[normalizeProvider(provider)]
	if !ok {
		return ModelInfo{}, false
	}
	info, ok := p.models[id]
	return info, ok
}

// Default returns the provider's default model. ok is false for unknown providers.
func (c *Catalog) Default(provider string) (ModelRef, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.providers[normalizeProvider(provider)]
	if !ok {
		return ModelRef{}, false
	}
	return ModelRef{ID: p.defaultID, Info: p.models[p.defaultID]}, true
}

// Resolve returns id with its info when the catalog knows it, else the provider default.
func (c *Catalog) Resolve(provider, id string) ModelRef {
	if id != "" {
		if info, ok := c.Lookup(provider, id); ok {
			return ModelRef{ID: id, Info: info}
		}
	}
	ref, _ := c.Default(provider)
	return ref
}

type catalogFile struct {
	Providers map[string]struct {
		Default string               `yaml:"default"`
		Models  map[string]ModelInfo `yaml:"models"`
	} `yaml:"providers"`
}

// LoadFile merges model overrides from a YAML file. Entries replace built-ins
// with the same id; a default is only accepted if the merged table contains it.
func (c *Catalog) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read catalog %s: %w", path, err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("parse catalog %s: %w", path, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for name, entry := range f.Providers {
		name = normalizeProvider(name)
		p, ok := c.providers[name]
		if !ok {
			p = &providerModels{models: map[string]ModelInfo{}}
			c.providers[name] = p
		}
		for id, info := range entry.Models {
			p.models[id] = info
		}
		if entry.Default != "" {
			if _, ok := p.models[entry.Default]; ok {
				p.defaultID = entry.Default
			} else {
				c.logger.Warn("catalog default not in model table, ignored",
					zap.String("provider", name), zap.String("model", entry.Default))
			}
		}
		if p.defaultID == "" {
			for id := range p.models {
				if p.defaultID == "" || id < p.defaultID {
					p.defaultID = id
				}
			}
		}
	}
	return nil
}

// Watch loads path and reloads it whenever it changes, until ctx is done.
// The parent directory is watched so editors that replace the file are seen.
func (c *Catalog) Watch(ctx context.Context, path string) error {
	if err := c.LoadFile(path); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create catalog watcher: %w", err)
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	c.logger.Info("catalog watcher started", zap.String("path", abs))

	const debounce = 100 * time.Millisecond
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				if err := c.LoadFile(abs); err != nil {
					c.logger.Warn("catalog reload failed", zap.Error(err))
					return
				}
				c.logger.Info("catalog reloaded", zap.String("path", abs))
			})
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("catalog watcher error", zap.Error(err))
		}
	}
}
