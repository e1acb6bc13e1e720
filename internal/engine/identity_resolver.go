package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/scrypster/rollcall/internal/storage"
	"github.com/scrypster/rollcall/pkg/types"
)

const (
	// lowCertainty is the model confidence under which semantic results are
	// penalized by lowCertaintyPenalty.
	lowCertainty        = 0.6
	lowCertaintyPenalty = 0.15

	// minCorroboration is the number of agreeing sources a fuzzy or semantic
	// result needs before it may skip review.
	minCorroboration = 2
)

// stageKind is one step of the resolution pipeline.
type stageKind int

const (
	stageExact stageKind = iota
	stageLearned
	stageFuzzy
	stageSemantic
)

// resolutionStages is the fixed order in which stages run.
var resolutionStages = []stageKind{stageExact, stageLearned, stageFuzzy, stageSemantic}

func (s stageKind) String() string {
	switch s {
	case stageExact:
		return "exact"
	case stageLearned:
		return "learned"
	case stageFuzzy:
		return "fuzzy"
	case stageSemantic:
		return "semantic"
	default:
		return "unknown"
	}
}

func (s stageKind) matchSource() types.MatchSource {
	switch s {
	case stageExact:
		return types.MatchExact
	case stageLearned:
		return types.MatchLearned
	case stageSemantic:
		return types.MatchLLM
	default:
		return types.MatchFuzzy
	}
}

// entryRanker scores a transcript name against every roster entry, best
// first. *FuzzyMatcher is the production implementation.
type entryRanker interface {
	RankEntries(query string, roster []types.RosterEntry) []EntryMatch
}

// ReviewEvent describes a change to the review queue or the learned mappings.
type ReviewEvent struct {
	Kind           ReviewEventKind       `json:"kind"`
	Scope          string                `json:"scope"`
	TranscriptName string                `json:"transcript_name"`
	Review         *types.PendingReview  `json:"review,omitempty"`
	Mapping        *types.LearnedMapping `json:"mapping,omitempty"`
	Actor          string                `json:"actor,omitempty"`
	At             time.Time             `json:"at"`
}

// IdentityResolver maps transcript speaker names to roster identities.
//
// Confirm is the only operation that writes learned mappings; Resolve never
// mutates the mapping store. Results that need a human decision are kept in
// the resolver's PendingReviews.
type IdentityResolver struct {
	store    storage.MappingStore
	fuzzy    entryRanker
	semantic *SemanticMatcher
	scorer   *ConfidenceScorer
	pending  *PendingReviews
	config   Config
	logger   *slog.Logger
	now      func() time.Time

	flight singleflight.Group

	mu            sync.RWMutex
	onReviewEvent func(ReviewEvent)
}

// NewIdentityResolver creates a resolver. store may be nil, in which case the
// learned stage is skipped and Confirm fails. semantic may be nil or
// unavailable, in which case the semantic stage falls back to fuzzy results.
func NewIdentityResolver(store storage.MappingStore, semantic *SemanticMatcher, config Config, logger *slog.Logger) (*IdentityResolver, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if semantic == nil {
		semantic = NewSemanticMatcher(nil, DefaultSemanticConfig(), logger)
	}

	return &IdentityResolver{
		store:    store,
		fuzzy:    NewFuzzyMatcher(),
		semantic: semantic,
		scorer:   NewConfidenceScorer(),
		pending:  NewPendingReviews(config.PendingTTL),
		config:   config,
		logger:   logger.With("component", "identity_resolver"),
		now:      time.Now,
	}, nil
}

// SetOnReviewEvent registers a callback invoked after every review queue or
// mapping change. The callback runs synchronously and must not block.
func (r *IdentityResolver) SetOnReviewEvent(callback func(ReviewEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onReviewEvent = callback
}

func (r *IdentityResolver) emit(ev ReviewEvent) {
	r.mu.RLock()
	cb := r.onReviewEvent
	r.mu.RUnlock()
	if cb == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = r.now().UTC()
	}
	cb(ev)
}

// SemanticAvailable reports whether the semantic stage can run.
func (r *IdentityResolver) SemanticAvailable() bool {
	return r.semantic.Available()
}

// attempt carries the state of one resolution across stages.
type attempt struct {
	req *types.ResolutionRequest
	key string

	// ranked is filled by the fuzzy stage; exact and learned hits never rank.
	ranked []EntryMatch
	rankOK bool

	// last is the last stage that actually ran.
	last stageKind

	// forceReview is set when the result must be reviewed whatever its
	// confidence.
	forceReview bool

	rationale string
}

// Resolve runs the stage pipeline for req. A name nobody matches yields a
// result with a nil ResolvedEmail, not an error. ErrInvalidRequest is returned
// for requests missing a scope, a transcript name or a roster.
func (r *IdentityResolver) Resolve(ctx context.Context, req *types.ResolutionRequest) (*types.ResolutionResult, error) {
	return r.ResolveWithTrace(ctx, req, nil)
}

// ResolveWithTrace is Resolve recording per-stage events into trace, which
// may be nil.
func (r *IdentityResolver) ResolveWithTrace(ctx context.Context, req *types.ResolutionRequest, trace *Trace) (*types.ResolutionResult, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request is nil", ErrInvalidRequest)
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	normalized := *req
	normalized.Scope = types.NormalizeScope(req.Scope)
	req = &normalized

	a := &attempt{
		req:  req,
		key:  types.NormalizeKey(req.TranscriptName),
		last: stageExact,
	}

	var result *types.ResolutionResult
	for _, stage := range resolutionStages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if res := r.runStage(ctx, stage, a, trace); res != nil {
			result = res
			break
		}
	}
	if result == nil {
		result = r.noMatch(a)
	}

	result.RequiresReview = r.requiresReview(result, a)
	if result.RequiresReview {
		r.registerPending(*result)
	}

	r.logger.Debug("resolved transcript name",
		"scope", req.Scope,
		"transcript_name", req.TranscriptName,
		"source", result.Source,
		"confidence", result.Confidence,
		"matched", result.Matched(),
		"requires_review", result.RequiresReview)
	return result, nil
}

func (r *IdentityResolver) runStage(ctx context.Context, stage stageKind, a *attempt, trace *Trace) *types.ResolutionResult {
	switch stage {
	case stageExact:
		return r.exactStage(a, trace)
	case stageLearned:
		return r.learnedStage(ctx, a, trace)
	case stageFuzzy:
		return r.fuzzyStage(a, trace)
	case stageSemantic:
		return r.semanticStage(ctx, a, trace)
	}
	return nil
}

// exactStage matches the normalized name against every entry's identifying
// keys. A key shared by entries with different emails is ambiguous and
// produces no result.
func (r *IdentityResolver) exactStage(a *attempt, trace *Trace) *types.ResolutionResult {
	a.last = stageExact

	var hit *types.RosterEntry
	for i := range a.req.Roster {
		entry := &a.req.Roster[i]
		for _, k := range entry.Keys() {
			if k != a.key {
				continue
			}
			if hit != nil && !strings.EqualFold(hit.Email, entry.Email) {
				trace.missed(stageExact, 0, "ambiguous: "+hit.Email+", "+entry.Email)
				return nil
			}
			hit = entry
			break
		}
	}
	if hit == nil {
		trace.missed(stageExact, 0, "no roster key equals the name")
		return nil
	}

	trace.matched(stageExact, hit.Email, ExactConfidence)
	return r.newResult(a, *hit, ExactConfidence, types.MatchExact,
		r.scorer.Corroboration(*hit, a.req), "exact roster match")
}

func (r *IdentityResolver) learnedStage(ctx context.Context, a *attempt, trace *Trace) *types.ResolutionResult {
	if r.store == nil {
		trace.skipped(stageLearned, "no mapping store")
		return nil
	}
	a.last = stageLearned

	mapping, err := r.store.Get(ctx, a.req.Scope, a.req.TranscriptName)
	if errors.Is(err, storage.ErrNotFound) {
		trace.missed(stageLearned, 0, "no learned mapping")
		return nil
	}
	if err != nil {
		r.logger.Warn("learned mapping lookup failed, skipping stage",
			"scope", a.req.Scope, "transcript_name", a.req.TranscriptName, "error", err)
		trace.failed(stageLearned, err.Error())
		return nil
	}

	entry, inRoster := rosterEntryByEmail(a.req.Roster, mapping.ResolvedEmail)
	if !inRoster {
		r.logger.Warn("learned mapping points outside the supplied roster",
			"scope", a.req.Scope, "transcript_name", a.req.TranscriptName, "email", mapping.ResolvedEmail)
		entry = types.RosterEntry{Name: mapping.ResolvedName, Email: mapping.ResolvedEmail}
	}
	if mapping.ResolvedName != "" {
		entry.Name = mapping.ResolvedName
	}

	trace.matched(stageLearned, mapping.ResolvedEmail, LearnedConfidence)
	return r.newResult(a, entry, LearnedConfidence, types.MatchLearned,
		r.scorer.Corroboration(entry, a.req),
		fmt.Sprintf("confirmed by %s on %s", mapping.CreatedBy, mapping.CreatedAt.UTC().Format(time.DateOnly)))
}

// rank scores the roster once per attempt.
func (r *IdentityResolver) rank(a *attempt) []EntryMatch {
	if !a.rankOK {
		a.ranked = r.fuzzy.RankEntries(a.req.TranscriptName, a.req.Roster)
		a.rankOK = true
	}
	return a.ranked
}

func (r *IdentityResolver) fuzzyStage(a *attempt, trace *Trace) *types.ResolutionResult {
	a.last = stageFuzzy
	ranked := r.rank(a)
	if len(ranked) == 0 {
		trace.missed(stageFuzzy, 0, "no candidates")
		return nil
	}

	best := ranked[0]
	if best.Score < r.config.AutoAcceptThreshold {
		trace.missed(stageFuzzy, best.Score, "best score below auto-accept threshold")
		return nil
	}

	if r.topTied(a) {
		a.forceReview = true
	}
	trace.matched(stageFuzzy, best.Entry.Email, best.Score)
	return r.fuzzyResult(a, best)
}

func (r *IdentityResolver) semanticStage(ctx context.Context, a *attempt, trace *Trace) *types.ResolutionResult {
	ranked := r.rank(a)
	if len(ranked) == 0 || ranked[0].Score < r.config.NoiseFloor {
		trace.skipped(stageSemantic, "best fuzzy score below noise floor")
		return nil
	}
	best := ranked[0]

	if !r.semantic.Available() {
		trace.skipped(stageSemantic, "semantic matcher not configured")
		a.forceReview = true
		return r.fuzzyResult(a, best)
	}

	match, err := r.semantic.Infer(ctx, a.req.TranscriptName, a.req.Context, a.req.Roster)
	if err != nil {
		r.logger.Warn("semantic matcher failed, falling back to fuzzy candidate",
			"scope", a.req.Scope, "transcript_name", a.req.TranscriptName, "error", err)
		trace.failed(stageSemantic, err.Error())
		a.forceReview = true
		return r.fuzzyResult(a, best)
	}
	a.last = stageSemantic

	if match.MatchedEmail == nil {
		trace.missed(stageSemantic, match.Confidence, match.Rationale)
		a.rationale = match.Rationale
		return nil
	}

	entry, _ := rosterEntryByEmail(a.req.Roster, *match.MatchedEmail)
	base := math.Min(match.Confidence, SingleSourceCap)
	if match.Confidence < lowCertainty {
		base -= lowCertaintyPenalty
	}
	corroboration := r.scorer.Corroboration(entry, a.req)
	trace.matched(stageSemantic, entry.Email, match.Confidence)
	return r.newResult(a, entry, r.scorer.Score(base, corroboration), types.MatchLLM, corroboration, match.Rationale)
}

func (r *IdentityResolver) fuzzyResult(a *attempt, best EntryMatch) *types.ResolutionResult {
	corroboration := r.scorer.Corroboration(best.Entry, a.req)
	return r.newResult(a, best.Entry, r.scorer.Score(best.Score, corroboration), types.MatchFuzzy, corroboration,
		fmt.Sprintf("fuzzy match on %q (%.2f)", best.Matched, best.Score))
}

// topTied reports whether the two best fuzzy candidates are different people
// with the same score.
func (r *IdentityResolver) topTied(a *attempt) bool {
	return len(a.ranked) > 1 &&
		a.ranked[0].Score == a.ranked[1].Score &&
		!strings.EqualFold(a.ranked[0].Entry.Email, a.ranked[1].Entry.Email)
}

func (r *IdentityResolver) newResult(a *attempt, entry types.RosterEntry, confidence float64, source types.MatchSource, corroboration []types.CandidateSource, rationale string) *types.ResolutionResult {
	email := entry.Email
	name := entry.Name
	return &types.ResolutionResult{
		Scope:          a.req.Scope,
		TranscriptName: a.req.TranscriptName,
		ResolvedEmail:  &email,
		ResolvedName:   &name,
		Confidence:     clamp01(confidence),
		Source:         source,
		Alternatives:   r.alternatives(a, email),
		Corroboration:  corroboration,
		Rationale:      rationale,
	}
}

func (r *IdentityResolver) noMatch(a *attempt) *types.ResolutionResult {
	rationale := a.rationale
	if rationale == "" {
		rationale = "no candidate matched"
	}
	return &types.ResolutionResult{
		Scope:          a.req.Scope,
		TranscriptName: a.req.TranscriptName,
		Confidence:     0,
		Source:         a.last.matchSource(),
		Alternatives:   r.alternatives(a, ""),
		Rationale:      rationale,
	}
}

// alternatives returns up to MaxAlternatives runner-up entries with a
// non-zero fuzzy score, excluding resolvedEmail. Results settled before the
// fuzzy stage have none.
func (r *IdentityResolver) alternatives(a *attempt, resolvedEmail string) []types.Alternative {
	alts := []types.Alternative{}
	for _, m := range a.ranked {
		if len(alts) >= r.config.MaxAlternatives {
			break
		}
		if m.Score <= 0 || strings.EqualFold(m.Entry.Email, resolvedEmail) {
			continue
		}
		alts = append(alts, types.Alternative{Email: m.Entry.Email, Name: m.Entry.Name, Score: m.Score})
	}
	return alts
}

// requiresReview decides whether a result can be used without a human.
// Fuzzy and semantic results backed by a single source always need review.
func (r *IdentityResolver) requiresReview(result *types.ResolutionResult, a *attempt) bool {
	if !result.Matched() || a.forceReview {
		return true
	}
	if result.Confidence < r.config.AutoAcceptThreshold {
		return true
	}
	switch result.Source {
	case types.MatchFuzzy, types.MatchLLM:
		return countDistinct(result.Corroboration) < minCorroboration
	}
	return false
}

func (r *IdentityResolver) registerPending(result types.ResolutionResult) {
	review, created := r.pending.Add(result)
	if !created {
		return
	}
	r.emit(ReviewEvent{
		Kind:           EventPendingCreated,
		Scope:          review.Scope,
		TranscriptName: review.TranscriptName,
		Review:         &review,
		At:             review.CreatedAt,
	})
}

// Confirm records an operator decision as a learned mapping and clears the
// matching pending review. An empty operator is recorded as "auto".
func (r *IdentityResolver) Confirm(ctx context.Context, scope, transcriptName, email, name, operator string) (*types.LearnedMapping, error) {
	if strings.TrimSpace(operator) == "" {
		operator = DefaultOperator
	}
	mapping := &types.LearnedMapping{
		Scope:          types.NormalizeScope(scope),
		TranscriptName: strings.TrimSpace(transcriptName),
		ResolvedEmail:  strings.TrimSpace(email),
		ResolvedName:   strings.TrimSpace(name),
		CreatedAt:      r.now().UTC(),
		CreatedBy:      operator,
	}
	if err := mapping.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if r.store == nil {
		return nil, fmt.Errorf("%w: no mapping store configured", ErrStoreWriteFailed)
	}

	if err := r.store.Put(ctx, mapping); err != nil {
		r.logger.Error("failed to persist confirmed mapping",
			"scope", mapping.Scope, "transcript_name", mapping.TranscriptName, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrStoreWriteFailed, err)
	}

	r.pending.Remove(mapping.Scope, mapping.TranscriptName)
	r.logger.Info("mapping confirmed",
		"scope", mapping.Scope, "transcript_name", mapping.TranscriptName,
		"email", mapping.ResolvedEmail, "operator", operator)
	r.emit(ReviewEvent{
		Kind:           EventMappingConfirmed,
		Scope:          mapping.Scope,
		TranscriptName: mapping.TranscriptName,
		Mapping:        mapping,
		Actor:          operator,
		At:             mapping.CreatedAt,
	})
	return mapping, nil
}

// Reject drops the pending review for (scope, transcriptName) without
// learning anything. It reports whether a review was pending.
func (r *IdentityResolver) Reject(scope, transcriptName string) bool {
	review, ok := r.pending.Remove(scope, transcriptName)
	if !ok {
		return false
	}
	r.emit(ReviewEvent{
		Kind:           EventPendingRejected,
		Scope:          review.Scope,
		TranscriptName: review.TranscriptName,
		Review:         &review,
	})
	return true
}

// Forget deletes the learned mapping for (scope, transcriptName).
// storage.ErrNotFound is returned when there is nothing to forget.
func (r *IdentityResolver) Forget(ctx context.Context, scope, transcriptName, operator string) error {
	scope = types.NormalizeScope(scope)
	if scope == "" || types.NormalizeKey(transcriptName) == "" {
		return fmt.Errorf("%w: scope and transcript name are required", ErrInvalidRequest)
	}
	if r.store == nil {
		return fmt.Errorf("%w: no mapping store configured", ErrStoreWriteFailed)
	}
	if strings.TrimSpace(operator) == "" {
		operator = DefaultOperator
	}

	if err := r.store.Delete(ctx, scope, transcriptName, operator); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrStoreWriteFailed, err)
	}

	r.logger.Info("mapping forgotten", "scope", scope, "transcript_name", transcriptName, "operator", operator)
	r.emit(ReviewEvent{
		Kind:           EventMappingForgotten,
		Scope:          scope,
		TranscriptName: transcriptName,
		Actor:          operator,
	})
	return nil
}

// ListPending returns the pending reviews of scope, oldest first. An empty
// scope lists all scopes.
func (r *IdentityResolver) ListPending(scope string) []types.PendingReview {
	return r.pending.List(scope)
}

// ExpirePending removes reviews whose TTL elapsed before now and returns them.
// Nothing expires on its own; callers schedule this.
func (r *IdentityResolver) ExpirePending(now time.Time) []types.PendingReview {
	expired := r.pending.Expire(now)
	for i := range expired {
		review := expired[i]
		r.emit(ReviewEvent{
			Kind:           EventPendingExpired,
			Scope:          review.Scope,
			TranscriptName: review.TranscriptName,
			Review:         &review,
			At:             now.UTC(),
		})
	}
	if len(expired) > 0 {
		r.logger.Info("expired pending reviews", "count", len(expired))
	}
	return expired
}

// Mappings lists the learned mappings of scope.
func (r *IdentityResolver) Mappings(ctx context.Context, scope string) ([]types.LearnedMapping, error) {
	if r.store == nil {
		return []types.LearnedMapping{}, nil
	}
	return r.store.List(ctx, scope)
}

// History returns the newest mapping changes of scope.
func (r *IdentityResolver) History(ctx context.Context, scope string, limit int) ([]types.MappingEvent, error) {
	if r.store == nil {
		return []types.MappingEvent{}, nil
	}
	return r.store.History(ctx, scope, limit)
}

func rosterEntryByEmail(roster []types.RosterEntry, email string) (types.RosterEntry, bool) {
	email = strings.TrimSpace(email)
	for _, e := range roster {
		if strings.EqualFold(strings.TrimSpace(e.Email), email) {
			return e, true
		}
	}
	return types.RosterEntry{}, false
}
