package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OpenAIConfig holds configuration for the OpenAI client.
type OpenAIConfig struct {
	APIKey  string
	Model   string        // default: gpt-4o-mini
	BaseURL string        // default: https://api.openai.com
	Timeout time.Duration // default: 60s
}

// OpenAIClient implements TextGenerator using the chat completions API.
// Any OpenAI-compatible endpoint works by overriding BaseURL.
type OpenAIClient struct {
	cfg            OpenAIConfig
	client         *http.Client
	circuitBreaker *CircuitBreaker
}

// NewOpenAIClient creates a new OpenAI client with the given configuration.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &OpenAIClient{
		cfg:            cfg,
		client:         &http.Client{Timeout: cfg.Timeout},
		circuitBreaker: NewCircuitBreaker("openai"),
	}
}

type openAIChatRequest struct {
	Model          string              `json:"model"`
	Messages       []openAIChatMessage `json:"messages"`
	Temperature    float64             `json:"temperature"`
	ResponseFormat *openAIFormat       `json:"response_format,omitempty"`
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIFormat struct {
	Type string `json:"type"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends a single-turn chat completion and returns the reply text.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	out, err := c.circuitBreaker.Execute(ctx, func() (string, error) {
		var resp openAIChatResponse
		err := postJSON(ctx, c.client, c.cfg.BaseURL+"/v1/chat/completions",
			map[string]string{"Authorization": "Bearer " + c.cfg.APIKey},
			openAIChatRequest{
				Model:          c.cfg.Model,
				Messages:       []openAIChatMessage{{Role: "user", Content: prompt}},
				Temperature:    0,
				ResponseFormat: &openAIFormat{Type: "json_object"},
			}, &resp)
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("no choices returned")
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return "", fmt.Errorf("openai circuit breaker open: %w", err)
		}
		return "", fmt.Errorf("openai: %w", err)
	}
	return out, nil
}

// GetModel returns the configured model name.
func (c *OpenAIClient) GetModel() string {
	return c.cfg.Model
}

var _ TextGenerator = (*OpenAIClient)(nil)
