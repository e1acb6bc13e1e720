// Package types defines the shared data model for speaker identity resolution:
// roster entries, resolution requests and results, learned mappings and
// pending reviews.
package types

import (
	"strings"
	"time"
)

// CandidateSource identifies an independent signal that can corroborate an
// identity match.
type CandidateSource string

const (
	SourceRoster   CandidateSource = "roster"
	SourceChat     CandidateSource = "chat"
	SourceCalendar CandidateSource = "calendar"
)

// MatchSource records which pipeline stage produced a resolution result.
type MatchSource string

const (
	MatchExact   MatchSource = "exact"
	MatchLearned MatchSource = "learned"
	MatchFuzzy   MatchSource = "fuzzy"
	MatchLLM     MatchSource = "llm"
)

// IsValid reports whether s is one of the known match sources.
func (s MatchSource) IsValid() bool {
	switch s {
	case MatchExact, MatchLearned, MatchFuzzy, MatchLLM:
		return true
	}
	return false
}

// RosterEntry is one person eligible for a project. Email is the unique key
// within a roster.
type RosterEntry struct {
	Name    string   `json:"name" yaml:"name"`
	Email   string   `json:"email" yaml:"email"`
	Handle  string   `json:"handle,omitempty" yaml:"handle,omitempty"`
	Aliases []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

// EmailLocalPart returns the part of the email before the '@'.
func (r RosterEntry) EmailLocalPart() string {
	local, _, _ := strings.Cut(r.Email, "@")
	return local
}

// Keys returns every normalized string that identifies this entry exactly:
// display name, email local-part, handle and aliases. Empty keys are dropped
// and duplicates removed, preserving first occurrence order.
func (r RosterEntry) Keys() []string {
	raw := make([]string, 0, 3+len(r.Aliases))
	raw = append(raw, r.Name, r.EmailLocalPart(), r.Handle)
	raw = append(raw, r.Aliases...)

	seen := make(map[string]struct{}, len(raw))
	keys := make([]string, 0, len(raw))
	for _, s := range raw {
		k := NormalizeKey(strings.TrimPrefix(strings.TrimSpace(s), "@"))
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

// ResolutionRequest carries one transcript name to resolve together with the
// candidate sets supplied by the caller.
type ResolutionRequest struct {
	Scope              string        `json:"scope"`
	TranscriptName     string        `json:"transcript_name"`
	Context            string        `json:"context,omitempty"`
	Roster             []RosterEntry `json:"roster"`
	ChatCandidates     []RosterEntry `json:"chat_candidates,omitempty"`
	CalendarCandidates []RosterEntry `json:"calendar_candidates,omitempty"`
}

// CandidateSources reports which candidate sets were supplied for this call.
func (r *ResolutionRequest) CandidateSources() []CandidateSource {
	var sources []CandidateSource
	if len(r.Roster) > 0 {
		sources = append(sources, SourceRoster)
	}
	if len(r.ChatCandidates) > 0 {
		sources = append(sources, SourceChat)
	}
	if len(r.CalendarCandidates) > 0 {
		sources = append(sources, SourceCalendar)
	}
	return sources
}

// Alternative is another plausible candidate kept for operator inspection.
type Alternative struct {
	Email string  `json:"email"`
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// ResolutionResult is the outcome of resolving one transcript name.
// ResolvedEmail is non-nil iff a candidate was found.
type ResolutionResult struct {
	Scope          string            `json:"scope"`
	TranscriptName string            `json:"transcript_name"`
	ResolvedEmail  *string           `json:"resolved_email"`
	ResolvedName   *string           `json:"resolved_name"`
	Confidence     float64           `json:"confidence"`
	Source         MatchSource       `json:"source"`
	Alternatives   []Alternative     `json:"alternatives"`
	RequiresReview bool              `json:"requires_review"`
	Corroboration  []CandidateSource `json:"corroboration,omitempty"`
	Rationale      string            `json:"rationale,omitempty"`
}

// Matched reports whether a candidate was found.
func (r *ResolutionResult) Matched() bool {
	return r != nil && r.ResolvedEmail != nil
}

// LearnedMapping is a human-confirmed (scope, transcript name) → identity pair.
// TranscriptName keeps the key exactly as typed; lookups use NormalizeKey.
type LearnedMapping struct {
	Scope          string    `json:"scope"`
	TranscriptName string    `json:"transcript_name"`
	ResolvedEmail  string    `json:"resolved_email"`
	ResolvedName   string    `json:"resolved_name"`
	CreatedAt      time.Time `json:"created_at"`
	CreatedBy      string    `json:"created_by"`
}

// Key returns the normalized lookup key for the mapping.
func (m *LearnedMapping) Key() string {
	return NormalizeKey(m.TranscriptName)
}

// MappingAction is the kind of change recorded in mapping history.
type MappingAction string

const (
	MappingConfirmed MappingAction = "confirm"
	MappingDeleted   MappingAction = "delete"
)

// MappingEvent is one entry of a scope's mapping history.
type MappingEvent struct {
	ID             string        `json:"id"`
	Scope          string        `json:"scope"`
	TranscriptName string        `json:"transcript_name"`
	ResolvedEmail  string        `json:"resolved_email,omitempty"`
	ResolvedName   string        `json:"resolved_name,omitempty"`
	Action         MappingAction `json:"action"`
	Actor          string        `json:"actor"`
	At             time.Time     `json:"at"`
}

// PendingReview holds a result that needs a human decision.
type PendingReview struct {
	ID             string           `json:"id"`
	Scope          string           `json:"scope"`
	TranscriptName string           `json:"transcript_name"`
	Result         ResolutionResult `json:"result"`
	CreatedAt      time.Time        `json:"created_at"`
	ExpiresAt      time.Time        `json:"expires_at"`
}

// NormalizeScope trims surrounding whitespace from a scope. Scopes are
// otherwise compared exactly.
func NormalizeScope(s string) string {
	return strings.TrimSpace(s)
}

// NormalizeKey lower-cases s, trims it and collapses internal whitespace runs
// to a single space. Every learned-mapping lookup and write goes through it.
func NormalizeKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
