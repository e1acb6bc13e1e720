package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OllamaConfig holds Ollama client configuration.
type OllamaConfig struct {
	// BaseURL is the base URL for the Ollama API (default: http://localhost:11434)
	BaseURL string

	// Model is the model used for completions (default: qwen2.5:7b)
	Model string

	// Timeout is the request timeout duration (default: 30s)
	Timeout time.Duration
}

// OllamaClient talks to a local Ollama server through /api/generate.
// Every call goes through a circuit breaker.
type OllamaClient struct {
	cfg            OllamaConfig
	client         *http.Client
	circuitBreaker *CircuitBreaker
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewOllamaClient creates a new Ollama client, applying defaults for any
// zero-valued configuration field.
func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "qwen2.5:7b"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &OllamaClient{
		cfg:            cfg,
		client:         &http.Client{Timeout: cfg.Timeout},
		circuitBreaker: NewCircuitBreaker("ollama"),
	}
}

// Complete sends prompt to Ollama and returns the generated text. The request
// asks for JSON output at temperature 0.
func (c *OllamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	out, err := c.circuitBreaker.Execute(ctx, func() (string, error) {
		var resp ollamaGenerateResponse
		err := postJSON(ctx, c.client, c.cfg.BaseURL+"/api/generate", nil, ollamaGenerateRequest{
			Model:   c.cfg.Model,
			Prompt:  prompt,
			Stream:  false,
			Format:  "json",
			Options: map[string]any{"temperature": 0},
		}, &resp)
		if err != nil {
			return "", err
		}
		return resp.Response, nil
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return "", fmt.Errorf("ollama circuit breaker open: %w", err)
		}
		return "", fmt.Errorf("ollama: %w", err)
	}
	return out, nil
}

// GetModel returns the configured model name.
func (c *OllamaClient) GetModel() string {
	return c.cfg.Model
}

// CircuitBreakerState reports the state of the client's breaker.
func (c *OllamaClient) CircuitBreakerState() string {
	return c.circuitBreaker.State()
}

var _ TextGenerator = (*OllamaClient)(nil)
