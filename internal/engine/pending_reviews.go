package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/rollcall/pkg/types"
)

type pendingKey struct {
	scope string
	name  string
}

func newPendingKey(scope, transcriptName string) pendingKey {
	return pendingKey{scope: types.NormalizeScope(scope), name: types.NormalizeKey(transcriptName)}
}

// PendingReviews is the in-memory set of results awaiting a human decision,
// keyed by (scope, normalized transcript name). Safe for concurrent use.
type PendingReviews struct {
	mu    sync.Mutex
	items map[pendingKey]types.PendingReview
	ttl   time.Duration
	now   func() time.Time
}

// NewPendingReviews creates an empty set whose entries expire after ttl.
func NewPendingReviews(ttl time.Duration) *PendingReviews {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &PendingReviews{
		items: make(map[pendingKey]types.PendingReview),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Add registers result. Adding a key that is already pending is a no-op that
// returns the existing review and false.
func (p *PendingReviews) Add(result types.ResolutionResult) (types.PendingReview, bool) {
	key := newPendingKey(result.Scope, result.TranscriptName)

	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.items[key]; ok {
		return existing, false
	}

	now := p.now().UTC()
	review := types.PendingReview{
		ID:             uuid.New().String(),
		Scope:          result.Scope,
		TranscriptName: result.TranscriptName,
		Result:         result,
		CreatedAt:      now,
		ExpiresAt:      now.Add(p.ttl),
	}
	p.items[key] = review
	return review, true
}

// Get returns the pending review for (scope, transcriptName).
func (p *PendingReviews) Get(scope, transcriptName string) (types.PendingReview, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	review, ok := p.items[newPendingKey(scope, transcriptName)]
	return review, ok
}

// Remove deletes and returns the pending review for (scope, transcriptName).
func (p *PendingReviews) Remove(scope, transcriptName string) (types.PendingReview, bool) {
	key := newPendingKey(scope, transcriptName)

	p.mu.Lock()
	defer p.mu.Unlock()
	review, ok := p.items[key]
	if ok {
		delete(p.items, key)
	}
	return review, ok
}

// List returns the pending reviews of scope, oldest first. An empty scope
// lists every scope.
func (p *PendingReviews) List(scope string) []types.PendingReview {
	scope = types.NormalizeScope(scope)

	p.mu.Lock()
	out := make([]types.PendingReview, 0, len(p.items))
	for key, review := range p.items {
		if scope == "" || key.scope == scope {
			out = append(out, review)
		}
	}
	p.mu.Unlock()

	sortReviews(out)
	return out
}

// Expire removes and returns every review whose expiry is before now.
func (p *PendingReviews) Expire(now time.Time) []types.PendingReview {
	p.mu.Lock()
	var expired []types.PendingReview
	for key, review := range p.items {
		if now.After(review.ExpiresAt) {
			expired = append(expired, review)
			delete(p.items, key)
		}
	}
	p.mu.Unlock()

	sortReviews(expired)
	return expired
}

// Len returns the number of pending reviews across all scopes.
func (p *PendingReviews) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

func sortReviews(reviews []types.PendingReview) {
	sort.Slice(reviews, func(i, j int) bool {
		if !reviews[i].CreatedAt.Equal(reviews[j].CreatedAt) {
			return reviews[i].CreatedAt.Before(reviews[j].CreatedAt)
		}
		if reviews[i].Scope != reviews[j].Scope {
			return reviews[i].Scope < reviews[j].Scope
		}
		return types.NormalizeKey(reviews[i].TranscriptName) < types.NormalizeKey(reviews[j].TranscriptName)
	})
}
