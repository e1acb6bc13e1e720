package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/scrypster/rollcall/internal/llm"
	"github.com/scrypster/rollcall/pkg/types"
)

// SemanticConfig bounds calls to the text generator.
type SemanticConfig struct {
	// Timeout applies to each Infer call (default: 10s).
	Timeout time.Duration

	// MaxConcurrent is the number of in-flight generator calls (default: 4).
	MaxConcurrent int64

	// RatePerSecond limits call throughput; <= 0 means unlimited.
	RatePerSecond float64

	// Burst is the rate limiter burst (default: MaxConcurrent).
	Burst int
}

// DefaultSemanticConfig returns the default semantic matcher limits.
func DefaultSemanticConfig() SemanticConfig {
	return SemanticConfig{
		Timeout:       10 * time.Second,
		MaxConcurrent: 4,
		RatePerSecond: 5,
	}
}

// SemanticMatch is the semantic matcher's answer. A nil MatchedEmail means
// the matcher decided none of the candidates fits.
type SemanticMatch struct {
	MatchedEmail *string
	MatchedName  string
	Confidence   float64
	Rationale    string
}

// SemanticMatcher asks a text generator which roster entry a speaker label
// refers to, using transcript context. A matcher without a generator is
// valid and reports itself unavailable.
type SemanticMatcher struct {
	gen     llm.TextGenerator
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	timeout time.Duration
	logger  *slog.Logger
}

// NewSemanticMatcher creates a matcher around gen, which may be nil.
func NewSemanticMatcher(gen llm.TextGenerator, cfg SemanticConfig, logger *slog.Logger) *SemanticMatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.MaxConcurrent)
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &SemanticMatcher{
		gen:     gen,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		limiter: rate.NewLimiter(limit, cfg.Burst),
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

// Available reports whether a text generator is configured.
func (m *SemanticMatcher) Available() bool {
	return m != nil && m.gen != nil
}

// Infer makes exactly one generator call. Any failure (not configured,
// timeout, transport, open circuit, unparseable reply) is returned wrapped in
// ErrMatcherUnavailable. A reply naming an email outside candidates is read
// as no match.
func (m *SemanticMatcher) Infer(ctx context.Context, query, transcriptContext string, candidates []types.RosterEntry) (*SemanticMatch, error) {
	if !m.Available() {
		return nil, ErrMatcherUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMatcherUnavailable, err)
	}
	defer m.sem.Release(1)

	if err := m.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMatcherUnavailable, err)
	}

	raw, err := m.gen.Complete(ctx, llm.IdentityMatchPrompt(query, transcriptContext, candidates))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMatcherUnavailable, err)
	}

	resp, err := llm.ParseIdentityMatchResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMatcherUnavailable, err)
	}

	match := &SemanticMatch{Confidence: resp.Confidence, Rationale: resp.Rationale}
	if resp.MatchedEmail == nil {
		return match, nil
	}

	for _, c := range candidates {
		if strings.EqualFold(strings.TrimSpace(c.Email), *resp.MatchedEmail) {
			email := c.Email
			match.MatchedEmail = &email
			match.MatchedName = c.Name
			return match, nil
		}
	}

	m.logger.Warn("semantic matcher returned an email outside the roster",
		"query", query, "email", *resp.MatchedEmail, "model", m.gen.GetModel())
	match.Rationale = strings.TrimSpace("returned email not in roster; " + match.Rationale)
	return match, nil
}
