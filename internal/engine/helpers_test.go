package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/rollcall/internal/llm"
	"github.com/scrypster/rollcall/internal/storage"
	"github.com/scrypster/rollcall/internal/storage/sqlite"
	"github.com/scrypster/rollcall/pkg/types"
)

// mockGenerator is a testify mock of llm.TextGenerator.
type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

func (m *mockGenerator) GetModel() string {
	return "mock-model"
}

var _ llm.TextGenerator = (*mockGenerator)(nil)

// failingStore fails every call with err.
type failingStore struct {
	err error
}

func (s *failingStore) Get(context.Context, string, string) (*types.LearnedMapping, error) {
	return nil, s.err
}
func (s *failingStore) Put(context.Context, *types.LearnedMapping) error   { return s.err }
func (s *failingStore) Delete(context.Context, string, string, string) error { return s.err }
func (s *failingStore) List(context.Context, string) ([]types.LearnedMapping, error) {
	return nil, s.err
}
func (s *failingStore) History(context.Context, string, int) ([]types.MappingEvent, error) {
	return nil, s.err
}
func (s *failingStore) Close() error { return nil }

var _ storage.MappingStore = (*failingStore)(nil)

var errDiskOnFire = errors.New("disk on fire")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *sqlite.MappingStore {
	t.Helper()
	store, err := sqlite.NewMappingStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// newTestResolver builds a resolver over an in-memory SQLite store. gen may
// be nil for a resolver without semantic matching.
func newTestResolver(t *testing.T, gen llm.TextGenerator) *IdentityResolver {
	t.Helper()
	return newTestResolverWithStore(t, newTestStore(t), gen)
}

func newTestResolverWithStore(t *testing.T, store storage.MappingStore, gen llm.TextGenerator) *IdentityResolver {
	t.Helper()
	cfg := DefaultSemanticConfig()
	cfg.RatePerSecond = 0
	var semantic *SemanticMatcher
	if gen != nil {
		semantic = NewSemanticMatcher(gen, cfg, discardLogger())
	}
	r, err := NewIdentityResolver(store, semantic, DefaultConfig(), discardLogger())
	require.NoError(t, err)
	return r
}

func testRoster() []types.RosterEntry {
	return []types.RosterEntry{
		{Name: "John Smith", Email: "john@x.com"},
		{Name: "Robert Jones", Email: "rjones@x.com", Aliases: []string{"Bob"}},
		{Name: "Jane Doe", Email: "jane@x.com", Handle: "@jdoe"},
	}
}

func request(name string) *types.ResolutionRequest {
	return &types.ResolutionRequest{Scope: "proj-1", TranscriptName: name, Roster: testRoster()}
}

// countingRanker counts RankEntries calls on the wrapped FuzzyMatcher.
type countingRanker struct {
	inner *FuzzyMatcher
	calls atomic.Int32
}

func (c *countingRanker) RankEntries(query string, roster []types.RosterEntry) []EntryMatch {
	c.calls.Add(1)
	return c.inner.RankEntries(query, roster)
}

// countRanking swaps r's fuzzy matcher for a counting one.
func countRanking(r *IdentityResolver) *countingRanker {
	c := &countingRanker{inner: NewFuzzyMatcher()}
	r.fuzzy = c
	return c
}
