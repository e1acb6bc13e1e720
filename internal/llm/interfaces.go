// Package llm provides the text-generation transport used by semantic
// identity matching: provider clients (Ollama, OpenAI, Anthropic) guarded by
// a circuit breaker, the JSON-only identity match prompt, and a tolerant
// parser for the model's reply.
package llm

import "context"

// TextGenerator is the interface for single-prompt LLM completion.
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GetModel() string
}
