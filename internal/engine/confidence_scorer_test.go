package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scrypster/rollcall/pkg/types"
)

func TestScore_SingleSourceIsCapped(t *testing.T) {
	s := NewConfidenceScorer()
	roster := []types.CandidateSource{types.SourceRoster}

	assert.Equal(t, 0.85, s.Score(0.99, roster))
	assert.Equal(t, 0.85, s.Score(0.99, nil))
	assert.Equal(t, 0.6, s.Score(0.6, roster))
	assert.Equal(t, 0.85, s.Score(0.99, []types.CandidateSource{types.SourceRoster, types.SourceRoster}),
		"duplicate sources count once")
}

func TestScore_CorroborationBonus(t *testing.T) {
	s := NewConfidenceScorer()

	two := []types.CandidateSource{types.SourceRoster, types.SourceChat}
	three := []types.CandidateSource{types.SourceRoster, types.SourceChat, types.SourceCalendar}

	assert.InDelta(t, 0.90, s.Score(0.85, two), 1e-9)
	assert.InDelta(t, 0.80, s.Score(0.70, three), 1e-9)
	assert.Equal(t, 1.0, s.Score(0.99, three))
}

func TestScore_ClampsBase(t *testing.T) {
	s := NewConfidenceScorer()
	assert.Equal(t, 0.0, s.Score(-3, nil))
	assert.Equal(t, 0.85, s.Score(12, nil))
}

func TestScore_BoundedAndMonotonic(t *testing.T) {
	s := NewConfidenceScorer()
	sets := [][]types.CandidateSource{
		{types.SourceRoster},
		{types.SourceRoster, types.SourceChat},
		{types.SourceRoster, types.SourceChat, types.SourceCalendar},
	}

	for base := -0.5; base <= 1.5; base += 0.05 {
		prev := -1.0
		for _, set := range sets {
			got := s.Score(base, set)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
			assert.GreaterOrEqual(t, got, prev, "adding a source never lowers confidence (base %v)", base)
			prev = got
		}
	}
}

func TestCorroboration(t *testing.T) {
	s := NewConfidenceScorer()
	entry := types.RosterEntry{Name: "Robert Jones", Email: "rjones@x.com", Aliases: []string{"Bob"}}

	t.Run("roster only", func(t *testing.T) {
		got := s.Corroboration(entry, &types.ResolutionRequest{})
		assert.Equal(t, []types.CandidateSource{types.SourceRoster}, got)
	})

	t.Run("chat by email", func(t *testing.T) {
		got := s.Corroboration(entry, &types.ResolutionRequest{
			ChatCandidates: []types.RosterEntry{{Email: "RJones@x.com"}},
		})
		assert.Equal(t, []types.CandidateSource{types.SourceRoster, types.SourceChat}, got)
	})

	t.Run("calendar by alias", func(t *testing.T) {
		got := s.Corroboration(entry, &types.ResolutionRequest{
			CalendarCandidates: []types.RosterEntry{{Name: "bob"}},
		})
		assert.Equal(t, []types.CandidateSource{types.SourceRoster, types.SourceCalendar}, got)
	})

	t.Run("different email does not agree", func(t *testing.T) {
		got := s.Corroboration(entry, &types.ResolutionRequest{
			ChatCandidates: []types.RosterEntry{{Name: "Robert Jones", Email: "robert.jones@other.com"}},
		})
		assert.Equal(t, []types.CandidateSource{types.SourceRoster}, got)
	})
}
