package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/scrypster/rollcall/internal/config"
	"github.com/scrypster/rollcall/internal/engine"
	"github.com/scrypster/rollcall/internal/llm"
	"github.com/scrypster/rollcall/internal/logging"
	"github.com/scrypster/rollcall/internal/storage"
	"github.com/scrypster/rollcall/internal/storage/postgres"
	"github.com/scrypster/rollcall/internal/storage/sqlite"
)

type commandContext struct {
	logLevel string

	configOnce sync.Once
	config     *config.Config
	logger     *slog.Logger
	configErr  error
}

func newCommandContext() *commandContext {
	return &commandContext{}
}

// ensureConfig loads the environment configuration and the logger once.
func (c *commandContext) ensureConfig() (*config.Config, *slog.Logger, error) {
	c.configOnce.Do(func() {
		cfg, err := config.LoadConfig()
		if err != nil {
			c.configErr = err
			return
		}
		if level := strings.TrimSpace(c.logLevel); level != "" {
			cfg.Logging.Level = level
		}
		logger, err := logging.NewFromConfig(cfg)
		if err != nil {
			c.configErr = err
			return
		}
		slog.SetDefault(logger)
		c.config = cfg
		c.logger = logger
	})
	return c.config, c.logger, c.configErr
}

// openStore opens the mapping store selected by the configuration.
func openStore(cfg *config.Config) (storage.MappingStore, error) {
	switch cfg.Storage.StorageEngine {
	case "postgres":
		return postgres.NewMappingStore(cfg.Storage.PostgresDSN)
	case "sqlite", "":
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		return sqlite.NewMappingStore(cfg.SQLitePath())
	default:
		return nil, fmt.Errorf("unsupported storage engine %q", cfg.Storage.StorageEngine)
	}
}

// newResolver wires the semantic matcher for the configured provider into a
// resolver over store.
func newResolver(cfg *config.Config, store storage.MappingStore, logger *slog.Logger) (*engine.IdentityResolver, error) {
	gen, err := llm.NewTextGenerator(cfg.ProviderConfig())
	if err != nil {
		return nil, fmt.Errorf("semantic matcher: %w", err)
	}
	if gen != nil {
		logger.Debug("semantic matching enabled", "provider", cfg.LLM.LLMProvider, "model", gen.GetModel())
	}
	semantic := engine.NewSemanticMatcher(gen, cfg.SemanticConfig(), logger)
	return engine.NewIdentityResolver(store, semantic, cfg.ResolverConfig(), logger)
}

// withResolver opens the store, builds a resolver and runs fn.
func (c *commandContext) withResolver(fn func(*engine.IdentityResolver, *config.Config) error) error {
	cfg, logger, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	resolver, err := newResolver(cfg, store, logger)
	if err != nil {
		return err
	}
	return fn(resolver, cfg)
}
