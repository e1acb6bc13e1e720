package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/rollcall/internal/engine"
	"github.com/scrypster/rollcall/internal/roster"
	"github.com/scrypster/rollcall/internal/storage"
	"github.com/scrypster/rollcall/internal/storage/sqlite"
	"github.com/scrypster/rollcall/pkg/types"
	"github.com/scrypster/rollcall/web/handlers"
)

var testRoster = []types.RosterEntry{
	{Name: "John Smith", Email: "john@x.com"},
	{Name: "Robert Jones", Email: "rjones@x.com", Aliases: []string{"Bob"}},
	{Name: "Jane Doe", Email: "jane@x.com", Handle: "@jdoe"},
}

// staticRosters serves a fixed set of scopes.
type staticRosters map[string][]types.RosterEntry

func (s staticRosters) Roster(scope string) ([]types.RosterEntry, error) {
	entries, ok := s[scope]
	if !ok {
		return nil, fmt.Errorf("%w: %q", roster.ErrUnknownScope, scope)
	}
	return entries, nil
}

func (s staticRosters) Scopes() []string {
	out := make([]string, 0, len(s))
	for scope := range s {
		out = append(out, scope)
	}
	return out
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string, string) (*types.LearnedMapping, error) {
	return nil, storage.ErrNotFound
}
func (brokenStore) Put(context.Context, *types.LearnedMapping) error {
	return errors.New("disk full")
}
func (brokenStore) Delete(context.Context, string, string, string) error {
	return errors.New("disk full")
}
func (brokenStore) List(context.Context, string) ([]types.LearnedMapping, error) {
	return nil, errors.New("disk full")
}
func (brokenStore) History(context.Context, string, int) ([]types.MappingEvent, error) {
	return nil, errors.New("disk full")
}
func (brokenStore) Close() error { return nil }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHandlersWithStore(t *testing.T, store storage.MappingStore) *handlers.APIHandlers {
	t.Helper()
	resolver, err := engine.NewIdentityResolver(store, nil, engine.DefaultConfig(), quietLogger())
	require.NoError(t, err)
	return handlers.NewAPIHandlers(resolver, staticRosters{"proj-1": testRoster}, "test", quietLogger())
}

func newHandlers(t *testing.T) *handlers.APIHandlers {
	t.Helper()
	store, err := sqlite.NewMappingStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return newHandlersWithStore(t, store)
}

func do(t *testing.T, h http.HandlerFunc, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestResolve_ExactWithRosterSource(t *testing.T) {
	h := newHandlers(t)

	w := do(t, h.Resolve, http.MethodPost, "/api/resolve", handlers.ResolveRequest{
		Scope: "proj-1", TranscriptName: "Bob",
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[handlers.ResolveResponse](t, w)
	require.NotNil(t, resp.Result.ResolvedEmail)
	assert.Equal(t, "rjones@x.com", *resp.Result.ResolvedEmail)
	assert.Equal(t, types.MatchExact, resp.Result.Source)
	assert.Equal(t, 1.0, resp.Result.Confidence)
	assert.False(t, resp.Result.RequiresReview)
	assert.Empty(t, resp.Trace)
}

func TestResolve_InlineRosterWinsOverSource(t *testing.T) {
	h := newHandlers(t)

	w := do(t, h.Resolve, http.MethodPost, "/api/resolve", handlers.ResolveRequest{
		Scope:          "elsewhere",
		TranscriptName: "Ann Lee",
		Roster:         []types.RosterEntry{{Name: "Ann Lee", Email: "ann@y.com"}},
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[handlers.ResolveResponse](t, w)
	require.NotNil(t, resp.Result.ResolvedEmail)
	assert.Equal(t, "ann@y.com", *resp.Result.ResolvedEmail)
}

func TestResolve_UnknownScope(t *testing.T) {
	h := newHandlers(t)

	w := do(t, h.Resolve, http.MethodPost, "/api/resolve", handlers.ResolveRequest{
		Scope: "nope", TranscriptName: "Bob",
	})

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestResolve_BadRequests(t *testing.T) {
	h := newHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/api/resolve", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	h.Resolve(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h.Resolve, http.MethodPost, "/api/resolve", handlers.ResolveRequest{Scope: "proj-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode[handlers.ErrorResponse](t, w)
	assert.Equal(t, "Bad Request", resp.Code)

	w = do(t, h.Resolve, http.MethodPost, "/api/resolve", handlers.ResolveRequest{TranscriptName: "Bob"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResolve_ExplainIncludesTrace(t *testing.T) {
	h := newHandlers(t)

	w := do(t, h.Resolve, http.MethodPost, "/api/resolve?explain=true", handlers.ResolveRequest{
		Scope: "proj-1", TranscriptName: "Jon Smith",
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[handlers.ResolveResponse](t, w)
	assert.NotEmpty(t, resp.Trace)
	assert.True(t, resp.Result.RequiresReview)
}

func TestConfirm_ThenResolveLearned(t *testing.T) {
	h := newHandlers(t)

	w := do(t, h.Confirm, http.MethodPost, "/api/confirm", handlers.ConfirmRequest{
		Scope: "proj-1", TranscriptName: "Speaker 2",
		ResolvedEmail: "jane@x.com", ResolvedName: "Jane Doe", Operator: "alice",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	mapping := decode[types.LearnedMapping](t, w)
	assert.Equal(t, "alice", mapping.CreatedBy)

	w = do(t, h.Resolve, http.MethodPost, "/api/resolve", handlers.ResolveRequest{
		Scope: "proj-1", TranscriptName: "speaker 2",
	})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[handlers.ResolveResponse](t, w)
	require.NotNil(t, resp.Result.ResolvedEmail)
	assert.Equal(t, "jane@x.com", *resp.Result.ResolvedEmail)
	assert.Equal(t, types.MatchLearned, resp.Result.Source)

	w = do(t, h.History, http.MethodGet, "/api/mappings/history?scope=proj-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[handlers.HistoryResponse](t, w)
	require.Equal(t, 1, history.Count)
	assert.Equal(t, types.MappingConfirmed, history.Events[0].Action)
}

func TestConfirm_InvalidAndStoreFailure(t *testing.T) {
	h := newHandlers(t)
	w := do(t, h.Confirm, http.MethodPost, "/api/confirm", handlers.ConfirmRequest{
		Scope: "proj-1", TranscriptName: "Speaker 2",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	broken := newHandlersWithStore(t, brokenStore{})
	w = do(t, broken.Confirm, http.MethodPost, "/api/confirm", handlers.ConfirmRequest{
		Scope: "proj-1", TranscriptName: "Speaker 2", ResolvedEmail: "jane@x.com",
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestPendingAndReject(t *testing.T) {
	h := newHandlers(t)

	w := do(t, h.Resolve, http.MethodPost, "/api/resolve", handlers.ResolveRequest{
		Scope: "proj-1", TranscriptName: "Jon Smith",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h.ListPending, http.MethodGet, "/api/pending?scope=proj-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	pending := decode[handlers.PendingResponse](t, w)
	require.Equal(t, 1, pending.Count)
	assert.Equal(t, "Jon Smith", pending.Pending[0].TranscriptName)

	w = do(t, h.ListPending, http.MethodGet, "/api/pending?scope=other", nil)
	assert.Equal(t, 0, decode[handlers.PendingResponse](t, w).Count)

	reject := handlers.RejectRequest{Scope: "proj-1", TranscriptName: "Jon Smith"}
	w = do(t, h.Reject, http.MethodPost, "/api/reject", reject)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, h.Reject, http.MethodPost, "/api/reject", reject)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h.Reject, http.MethodPost, "/api/reject", handlers.RejectRequest{Scope: "proj-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExpirePending_KeepsFreshReviews(t *testing.T) {
	h := newHandlers(t)

	do(t, h.Resolve, http.MethodPost, "/api/resolve", handlers.ResolveRequest{
		Scope: "proj-1", TranscriptName: "Jon Smith",
	})

	w := do(t, h.ExpirePending, http.MethodPost, "/api/pending/expire", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[handlers.PendingResponse](t, w).Count)

	w = do(t, h.ListPending, http.MethodGet, "/api/pending", nil)
	assert.Equal(t, 1, decode[handlers.PendingResponse](t, w).Count)
}

func TestMappings_ListAndDelete(t *testing.T) {
	h := newHandlers(t)

	w := do(t, h.ListMappings, http.MethodGet, "/api/mappings", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h.DeleteMapping, http.MethodDelete, "/api/mappings?scope=proj-1&transcript_name=Speaker+2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	do(t, h.Confirm, http.MethodPost, "/api/confirm", handlers.ConfirmRequest{
		Scope: "proj-1", TranscriptName: "Speaker 2", ResolvedEmail: "jane@x.com",
	})

	w = do(t, h.ListMappings, http.MethodGet, "/api/mappings?scope=proj-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[handlers.MappingsResponse](t, w).Count)

	w = do(t, h.DeleteMapping, http.MethodDelete, "/api/mappings?scope=proj-1&transcript_name=SPEAKER+2&operator=bob", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, h.ListMappings, http.MethodGet, "/api/mappings?scope=proj-1", nil)
	assert.Equal(t, 0, decode[handlers.MappingsResponse](t, w).Count)

	w = do(t, h.History, http.MethodGet, "/api/mappings/history?scope=proj-1&limit=1", nil)
	history := decode[handlers.HistoryResponse](t, w)
	require.Equal(t, 1, history.Count)
	assert.Equal(t, types.MappingDeleted, history.Events[0].Action)
	assert.Equal(t, "bob", history.Events[0].Actor)
}

func TestResolveBatch(t *testing.T) {
	h := newHandlers(t)

	w := do(t, h.ResolveBatch, http.MethodPost, "/api/resolve/batch", engine.BatchRequest{
		Scope: "proj-1",
		Items: []engine.BatchItem{
			{TranscriptName: "Bob"},
			{TranscriptName: "jdoe"},
			{TranscriptName: "BOB"},
		},
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[handlers.BatchResponse](t, w)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, "BOB", resp.Results[2].TranscriptName)
	for _, r := range resp.Results {
		require.NotNil(t, r.Result)
		require.NotNil(t, r.Result.ResolvedEmail)
	}
	assert.Equal(t, "rjones@x.com", *resp.Results[2].Result.ResolvedEmail)
	assert.Equal(t, "jane@x.com", *resp.Results[1].Result.ResolvedEmail)

	w = do(t, h.ResolveBatch, http.MethodPost, "/api/resolve/batch", engine.BatchRequest{Scope: "proj-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth(t *testing.T) {
	h := newHandlers(t)

	w := do(t, h.Health, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[handlers.HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.False(t, resp.SemanticAvailable)
	assert.Equal(t, []string{"proj-1"}, resp.Scopes)
}
