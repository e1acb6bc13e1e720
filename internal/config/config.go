// Package config provides configuration management for rollcall.
// It loads settings from environment variables with the ROLLCALL_ prefix
// and provides sensible defaults for all configuration options.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/scrypster/rollcall/internal/engine"
	"github.com/scrypster/rollcall/internal/llm"
)

// Config holds all configuration settings for the rollcall application.
type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	LLM        LLMConfig
	Resolution ResolutionConfig
	Security   SecurityConfig
	Roster     RosterConfig
	Logging    LoggingConfig
	Schedule   ScheduleConfig
	Backup     BackupConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port           int     // Server port (default: 6464)
	Host           string  // Server host (default: 127.0.0.1)
	RateLimitRPS   float64 // Per-client request rate (default: 20)
	RateLimitBurst int     // Per-client burst (default: 40)
}

// StorageConfig contains mapping store configuration.
type StorageConfig struct {
	StorageEngine string // Storage engine type: sqlite or postgres (default: sqlite)
	DataPath      string // Path to data directory for SQLite (default: ./data)
	PostgresDSN   string // PostgreSQL connection string, required for postgres
}

// LLMConfig contains semantic matching provider configuration.
type LLMConfig struct {
	LLMProvider     string        // ollama, openai, anthropic or none (default: ollama)
	OllamaURL       string        // Ollama API URL (default: http://localhost:11434)
	OllamaModel     string        // Ollama model name (default: qwen2.5:7b)
	OpenAIAPIKey    string        // OpenAI API key
	OpenAIModel     string        // OpenAI model name (default: gpt-4o-mini)
	OpenAIBaseURL   string        // OpenAI-compatible base URL (default: https://api.openai.com)
	AnthropicAPIKey string        // Anthropic API key
	AnthropicModel  string        // Anthropic model name (default: claude-3-5-haiku-latest)
	Timeout         time.Duration // Per-call timeout (default: 10s)
	MaxConcurrent   int           // In-flight semantic calls (default: 4)
	RatePerSecond   float64       // Semantic calls per second, 0 = unlimited (default: 5)
}

// ResolutionConfig contains resolver thresholds.
type ResolutionConfig struct {
	AutoAcceptThreshold float64       // default: 0.85
	NoiseFloor          float64       // default: 0.4
	MaxAlternatives     int           // default: 3
	PendingTTL          time.Duration // default: 168h
}

// SecurityConfig contains security and authentication settings.
type SecurityConfig struct {
	SecurityMode string // Security mode: development, production (default: development)
	APIToken     string // API authentication token
}

// RosterConfig points at the directory of per-scope roster YAML files.
type RosterConfig struct {
	Dir   string // Roster directory (default: ./rosters)
	Watch bool   // Reload rosters when files change (default: true)
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level  string // debug, info, warn, error (default: info)
	Format string // console or json (default: console)
}

// ScheduleConfig holds cron specs for background maintenance.
type ScheduleConfig struct {
	ExpirePending string // Cron spec for pending review expiry, empty disables (default: @hourly)
}

// BackupConfig controls snapshots of the SQLite mapping database.
type BackupConfig struct {
	Dir        string // Snapshot directory (default: <DataPath>/backups)
	Schedule   string // Cron spec for snapshots, empty disables (default: @daily)
	KeepLast   int    // default: 5
	KeepDaily  int    // default: 7
	KeepWeekly int    // default: 4
}

// LoadConfig loads configuration from environment variables with sensible
// defaults and validates it. All environment variables use the ROLLCALL_
// prefix.
func LoadConfig() (*Config, error) {
	cfg := buildBaseConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildBaseConfig constructs a Config with values from environment variables
// and defaults.
func buildBaseConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           getEnvInt("ROLLCALL_PORT", 6464),
			Host:           getEnv("ROLLCALL_HOST", "127.0.0.1"),
			RateLimitRPS:   getEnvFloat("ROLLCALL_RATE_LIMIT_RPS", 20),
			RateLimitBurst: getEnvInt("ROLLCALL_RATE_LIMIT_BURST", 40),
		},
		Storage: StorageConfig{
			StorageEngine: getEnv("ROLLCALL_STORAGE_ENGINE", "sqlite"),
			DataPath:      getEnv("ROLLCALL_DATA_PATH", "./data"),
			PostgresDSN:   getEnv("ROLLCALL_POSTGRES_DSN", ""),
		},
		LLM: LLMConfig{
			LLMProvider:     getEnv("ROLLCALL_LLM_PROVIDER", "ollama"),
			OllamaURL:       getEnv("ROLLCALL_OLLAMA_URL", "http://localhost:11434"),
			OllamaModel:     getEnv("ROLLCALL_OLLAMA_MODEL", "qwen2.5:7b"),
			OpenAIAPIKey:    getEnv("ROLLCALL_OPENAI_API_KEY", ""),
			OpenAIModel:     getEnv("ROLLCALL_OPENAI_MODEL", "gpt-4o-mini"),
			OpenAIBaseURL:   getEnv("ROLLCALL_OPENAI_BASE_URL", ""),
			AnthropicAPIKey: getEnv("ROLLCALL_ANTHROPIC_API_KEY", ""),
			AnthropicModel:  getEnv("ROLLCALL_ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
			Timeout:         getEnvDuration("ROLLCALL_LLM_TIMEOUT", 10*time.Second),
			MaxConcurrent:   getEnvInt("ROLLCALL_LLM_MAX_CONCURRENT", 4),
			RatePerSecond:   getEnvFloat("ROLLCALL_LLM_RATE", 5),
		},
		Resolution: ResolutionConfig{
			AutoAcceptThreshold: getEnvFloat("ROLLCALL_AUTO_ACCEPT_THRESHOLD", engine.DefaultAutoAcceptThreshold),
			NoiseFloor:          getEnvFloat("ROLLCALL_NOISE_FLOOR", engine.DefaultNoiseFloor),
			MaxAlternatives:     getEnvInt("ROLLCALL_MAX_ALTERNATIVES", engine.DefaultMaxAlternatives),
			PendingTTL:          getEnvDuration("ROLLCALL_PENDING_TTL", engine.DefaultPendingTTL),
		},
		Security: SecurityConfig{
			SecurityMode: getEnv("ROLLCALL_SECURITY_MODE", "development"),
			APIToken:     getEnv("ROLLCALL_API_TOKEN", ""),
		},
		Roster: RosterConfig{
			Dir:   getEnv("ROLLCALL_ROSTER_DIR", "./rosters"),
			Watch: getEnvBool("ROLLCALL_ROSTER_WATCH", true),
		},
		Logging: LoggingConfig{
			Level:  getEnv("ROLLCALL_LOG_LEVEL", "info"),
			Format: getEnv("ROLLCALL_LOG_FORMAT", "console"),
		},
		Schedule: ScheduleConfig{
			ExpirePending: getEnv("ROLLCALL_EXPIRE_SCHEDULE", "@hourly"),
		},
		Backup: BackupConfig{
			Dir:        getEnv("ROLLCALL_BACKUP_DIR", ""),
			Schedule:   getEnv("ROLLCALL_BACKUP_SCHEDULE", "@daily"),
			KeepLast:   getEnvInt("ROLLCALL_BACKUP_KEEP_LAST", 5),
			KeepDaily:  getEnvInt("ROLLCALL_BACKUP_KEEP_DAILY", 7),
			KeepWeekly: getEnvInt("ROLLCALL_BACKUP_KEEP_WEEKLY", 4),
		},
	}
}

// Validate checks value ranges and cross-field requirements.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: port must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Storage.StorageEngine {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("config: ROLLCALL_POSTGRES_DSN is required for the postgres storage engine")
		}
	default:
		return fmt.Errorf("config: unsupported storage engine %q", c.Storage.StorageEngine)
	}

	switch strings.ToLower(c.LLM.LLMProvider) {
	case "ollama", "none":
	case "openai":
		if c.LLM.OpenAIAPIKey == "" {
			return fmt.Errorf("config: ROLLCALL_OPENAI_API_KEY is required for the openai provider")
		}
	case "anthropic":
		if c.LLM.AnthropicAPIKey == "" {
			return fmt.Errorf("config: ROLLCALL_ANTHROPIC_API_KEY is required for the anthropic provider")
		}
	default:
		return fmt.Errorf("config: unsupported LLM provider %q", c.LLM.LLMProvider)
	}

	rc := c.ResolverConfig()
	if err := rc.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if c.Security.SecurityMode == "production" && c.Security.APIToken == "" {
		return fmt.Errorf("config: ROLLCALL_API_TOKEN is required in production security mode")
	}

	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("config: unsupported log format %q", c.Logging.Format)
	}

	if spec := c.Schedule.ExpirePending; spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("config: invalid ROLLCALL_EXPIRE_SCHEDULE %q: %w", spec, err)
		}
	}
	if spec := c.Backup.Schedule; spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("config: invalid ROLLCALL_BACKUP_SCHEDULE %q: %w", spec, err)
		}
	}
	if c.Backup.KeepLast < 1 || c.Backup.KeepDaily < 0 || c.Backup.KeepWeekly < 0 {
		return fmt.Errorf("config: backup retention must keep at least one snapshot")
	}
	return nil
}

// SQLitePath returns the mapping database path under DataPath.
func (c *Config) SQLitePath() string {
	return filepath.Join(c.Storage.DataPath, "rollcall.db")
}

// BackupDir returns the snapshot directory.
func (c *Config) BackupDir() string {
	if c.Backup.Dir != "" {
		return c.Backup.Dir
	}
	return filepath.Join(c.Storage.DataPath, "backups")
}

// ResolverConfig returns the engine thresholds.
func (c *Config) ResolverConfig() engine.Config {
	return engine.Config{
		AutoAcceptThreshold: c.Resolution.AutoAcceptThreshold,
		NoiseFloor:          c.Resolution.NoiseFloor,
		MaxAlternatives:     c.Resolution.MaxAlternatives,
		PendingTTL:          c.Resolution.PendingTTL,
	}
}

// SemanticConfig returns the semantic matcher limits.
func (c *Config) SemanticConfig() engine.SemanticConfig {
	return engine.SemanticConfig{
		Timeout:       c.LLM.Timeout,
		MaxConcurrent: int64(c.LLM.MaxConcurrent),
		RatePerSecond: c.LLM.RatePerSecond,
	}
}

// ProviderConfig returns the text generator settings for the selected provider.
func (c *Config) ProviderConfig() llm.ProviderConfig {
	pc := llm.ProviderConfig{Provider: strings.ToLower(c.LLM.LLMProvider), Timeout: c.LLM.Timeout}
	switch pc.Provider {
	case "openai":
		pc.APIKey = c.LLM.OpenAIAPIKey
		pc.Model = c.LLM.OpenAIModel
		pc.BaseURL = c.LLM.OpenAIBaseURL
	case "anthropic":
		pc.APIKey = c.LLM.AnthropicAPIKey
		pc.Model = c.LLM.AnthropicModel
	default:
		pc.BaseURL = c.LLM.OllamaURL
		pc.Model = c.LLM.OllamaModel
	}
	return pc
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}
