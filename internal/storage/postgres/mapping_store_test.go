package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/rollcall/internal/storage"
	"github.com/scrypster/rollcall/internal/storage/postgres"
	"github.com/scrypster/rollcall/pkg/types"
)

// postgresTestDSN returns the DSN for the test database.
// If ROLLCALL_TEST_POSTGRES_DSN is not set, tests are skipped.
func postgresTestDSN(t *testing.T) string {
	t.Helper()

	dsn := os.Getenv("ROLLCALL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ROLLCALL_TEST_POSTGRES_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestStore(t *testing.T) *postgres.MappingStore {
	t.Helper()

	store, err := postgres.NewMappingStore(postgresTestDSN(t))
	require.NoError(t, err, "NewMappingStore should succeed")
	require.NoError(t, store.TruncateForTest(context.Background()))

	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestPostgres_PutGetNormalizedKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &types.LearnedMapping{
		Scope:          "proj",
		TranscriptName: "J  Smith",
		ResolvedEmail:  "john@x.com",
		ResolvedName:   "John Smith",
		CreatedBy:      "alice",
		CreatedAt:      time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC),
	}))

	got, err := store.Get(ctx, "proj", " j smith ")
	require.NoError(t, err)
	assert.Equal(t, "J  Smith", got.TranscriptName)
	assert.Equal(t, "john@x.com", got.ResolvedEmail)
	assert.Equal(t, "alice", got.CreatedBy)

	_, err = store.Get(ctx, "other", "J Smith")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	padded, err := store.Get(ctx, " proj ", "J Smith")
	require.NoError(t, err)
	assert.Equal(t, "proj", padded.Scope)
}

func TestPostgres_UpsertAndHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &types.LearnedMapping{Scope: "p", TranscriptName: "Bob", ResolvedEmail: "a@x.com"}))
	require.NoError(t, store.Put(ctx, &types.LearnedMapping{Scope: "p", TranscriptName: "bob", ResolvedEmail: "b@x.com"}))

	mappings, err := store.List(ctx, "p")
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, "b@x.com", mappings[0].ResolvedEmail)

	require.NoError(t, store.Delete(ctx, "p", "BOB", "carol"))
	assert.ErrorIs(t, store.Delete(ctx, "p", "BOB", "carol"), storage.ErrNotFound)

	events, err := store.History(ctx, "p", 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, types.MappingDeleted, events[0].Action)
	assert.Equal(t, "b@x.com", events[0].ResolvedEmail)
}
