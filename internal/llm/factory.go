package llm

import (
	"fmt"
	"strings"
	"time"
)

// ProviderConfig selects and configures a text generation provider.
type ProviderConfig struct {
	Provider string // ollama, openai, anthropic or none
	Model    string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
}

// NewTextGenerator creates the TextGenerator for cfg.Provider. The "none"
// provider returns (nil, nil): semantic matching is then disabled.
func NewTextGenerator(cfg ProviderConfig) (TextGenerator, error) {
	switch strings.ToLower(cfg.Provider) {
	case "none", "off", "disabled":
		return nil, nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires an API key")
		}
		return NewOpenAIClient(OpenAIConfig{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL, Timeout: cfg.Timeout}), nil
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires an API key")
		}
		return NewAnthropicClient(AnthropicConfig{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL, Timeout: cfg.Timeout}), nil
	case "ollama", "":
		return NewOllamaClient(OllamaConfig{BaseURL: cfg.BaseURL, Model: cfg.Model, Timeout: cfg.Timeout}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}
