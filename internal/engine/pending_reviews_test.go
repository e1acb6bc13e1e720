package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/rollcall/pkg/types"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestPendingReviews_AddIsIdempotent(t *testing.T) {
	p := NewPendingReviews(DefaultPendingTTL)

	first, created := p.Add(types.ResolutionResult{Scope: "s", TranscriptName: "Speaker 2", Rationale: "first"})
	require.True(t, created)
	assert.NotEmpty(t, first.ID)

	again, created := p.Add(types.ResolutionResult{Scope: "s", TranscriptName: "  speaker 2", Rationale: "second"})
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "first", again.Result.Rationale)
	assert.Equal(t, 1, p.Len())
}

func TestPendingReviews_ScopesAreSeparate(t *testing.T) {
	p := NewPendingReviews(DefaultPendingTTL)
	p.Add(types.ResolutionResult{Scope: "a", TranscriptName: "Bob"})
	p.Add(types.ResolutionResult{Scope: "b", TranscriptName: "Bob"})

	assert.Len(t, p.List("a"), 1)
	assert.Len(t, p.List("b"), 1)
	assert.Len(t, p.List(""), 2)

	_, ok := p.Remove("a", "BOB")
	assert.True(t, ok)
	_, ok = p.Get("a", "Bob")
	assert.False(t, ok)
	_, ok = p.Get("b", "Bob")
	assert.True(t, ok)
}

func TestPendingReviews_Expire(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := NewPendingReviews(7 * 24 * time.Hour)

	p.now = fixedClock(start)
	p.Add(types.ResolutionResult{Scope: "s", TranscriptName: "old"})
	p.now = fixedClock(start.Add(3 * 24 * time.Hour))
	p.Add(types.ResolutionResult{Scope: "s", TranscriptName: "new"})

	assert.Empty(t, p.Expire(start.Add(7*24*time.Hour)), "exactly at TTL is not older than TTL")

	expired := p.Expire(start.Add(8 * 24 * time.Hour))
	require.Len(t, expired, 1)
	assert.Equal(t, "old", expired[0].TranscriptName)

	remaining := p.List("s")
	require.Len(t, remaining, 1)
	assert.Equal(t, "new", remaining[0].TranscriptName)
	assert.Equal(t, start.Add(10*24*time.Hour), remaining[0].ExpiresAt)
}

func TestPendingReviews_ListOrder(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := NewPendingReviews(time.Hour)
	for i, name := range []string{"c", "a", "b"} {
		p.now = fixedClock(start.Add(time.Duration(i) * time.Minute))
		p.Add(types.ResolutionResult{Scope: "s", TranscriptName: name})
	}

	list := p.List("s")
	require.Len(t, list, 3)
	assert.Equal(t, "c", list[0].TranscriptName)
	assert.Equal(t, "a", list[1].TranscriptName)
	assert.Equal(t, "b", list[2].TranscriptName)
}

func TestPendingReviews_ConcurrentAdd(t *testing.T) {
	p := NewPendingReviews(DefaultPendingTTL)

	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, created := p.Add(types.ResolutionResult{Scope: "s", TranscriptName: "Speaker 1"}); created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, createdCount)
	assert.Equal(t, 1, p.Len())
}
