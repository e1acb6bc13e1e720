package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const anthropicVersion = "2023-06-01"

// AnthropicConfig holds configuration for the Anthropic client.
type AnthropicConfig struct {
	APIKey    string
	Model     string        // default: claude-3-5-haiku-latest
	BaseURL   string        // default: https://api.anthropic.com
	MaxTokens int           // default: 512
	Timeout   time.Duration // default: 60s
}

// AnthropicClient implements TextGenerator using the Messages API.
type AnthropicClient struct {
	cfg            AnthropicConfig
	client         *http.Client
	circuitBreaker *CircuitBreaker
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-haiku-latest"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 512
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &AnthropicClient{
		cfg:            cfg,
		client:         &http.Client{Timeout: cfg.Timeout},
		circuitBreaker: NewCircuitBreaker("anthropic"),
	}
}

type anthropicMessagesRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicMessagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Complete sends prompt as a single user message and returns the text blocks
// of the reply concatenated.
func (c *AnthropicClient) Complete(ctx context.Context, prompt string) (string, error) {
	out, err := c.circuitBreaker.Execute(ctx, func() (string, error) {
		var resp anthropicMessagesResponse
		err := postJSON(ctx, c.client, c.cfg.BaseURL+"/v1/messages",
			map[string]string{
				"x-api-key":         c.cfg.APIKey,
				"anthropic-version": anthropicVersion,
			},
			anthropicMessagesRequest{
				Model:     c.cfg.Model,
				MaxTokens: c.cfg.MaxTokens,
				Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
			}, &resp)
		if err != nil {
			return "", err
		}

		var sb strings.Builder
		for _, block := range resp.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		if sb.Len() == 0 {
			return "", errors.New("no text content returned")
		}
		return sb.String(), nil
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return "", fmt.Errorf("anthropic circuit breaker open: %w", err)
		}
		return "", fmt.Errorf("anthropic: %w", err)
	}
	return out, nil
}

// GetModel returns the configured model name.
func (c *AnthropicClient) GetModel() string {
	return c.cfg.Model
}

var _ TextGenerator = (*AnthropicClient)(nil)
