package engine

import (
	"math"

	"github.com/scrypster/rollcall/pkg/types"
)

const (
	// SingleSourceCap is the highest confidence a candidate supported by a
	// single source can reach.
	SingleSourceCap = 0.85

	// CorroborationBonus is added per agreeing source beyond the first.
	CorroborationBonus = 0.05
)

// ConfidenceScorer turns a raw match score into a confidence, capping
// single-source matches and rewarding agreement between independent sources.
type ConfidenceScorer struct{}

// NewConfidenceScorer creates a new confidence scorer.
func NewConfidenceScorer() *ConfidenceScorer {
	return &ConfidenceScorer{}
}

// Score computes the confidence for base given the sources that agree on the
// candidate. base is clamped to [0,1]. With at most one distinct source the
// result is min(base, 0.85); with n >= 2 it is min(1, base + 0.05*(n-1)).
func (s *ConfidenceScorer) Score(base float64, agreeing []types.CandidateSource) float64 {
	if math.IsNaN(base) {
		base = 0
	}
	base = clamp01(base)

	n := countDistinct(agreeing)
	if n <= 1 {
		return math.Min(base, SingleSourceCap)
	}
	return math.Min(1, base+CorroborationBonus*float64(n-1))
}

// Corroboration returns the sources in req that agree on entry. The roster
// always agrees; chat and calendar agree when one of their candidates shares
// the entry's email or one of its identifying keys.
func (s *ConfidenceScorer) Corroboration(entry types.RosterEntry, req *types.ResolutionRequest) []types.CandidateSource {
	agreeing := []types.CandidateSource{types.SourceRoster}
	if req == nil {
		return agreeing
	}

	keys := make(map[string]struct{})
	for _, k := range entry.Keys() {
		keys[k] = struct{}{}
	}
	email := types.NormalizeKey(entry.Email)

	if candidateSetAgrees(req.ChatCandidates, email, keys) {
		agreeing = append(agreeing, types.SourceChat)
	}
	if candidateSetAgrees(req.CalendarCandidates, email, keys) {
		agreeing = append(agreeing, types.SourceCalendar)
	}
	return agreeing
}

func candidateSetAgrees(set []types.RosterEntry, email string, keys map[string]struct{}) bool {
	for _, c := range set {
		if c.Email != "" {
			if types.NormalizeKey(c.Email) == email {
				return true
			}
			// A candidate carrying a different email names someone else.
			continue
		}
		for _, k := range c.Keys() {
			if _, ok := keys[k]; ok {
				return true
			}
		}
	}
	return false
}

func countDistinct(sources []types.CandidateSource) int {
	seen := make(map[types.CandidateSource]struct{}, len(sources))
	for _, s := range sources {
		seen[s] = struct{}{}
	}
	return len(seen)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
