package backup_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/rollcall/internal/backup"
	"github.com/scrypster/rollcall/internal/storage/sqlite"
	"github.com/scrypster/rollcall/pkg/types"
)

// newMappingDB creates a mapping database holding one mapping per name and
// closes it.
func newMappingDB(t *testing.T, path string, names ...string) {
	t.Helper()
	store, err := sqlite.NewMappingStore(path)
	require.NoError(t, err)
	for _, name := range names {
		require.NoError(t, store.Put(context.Background(), &types.LearnedMapping{
			Scope:          "proj-1",
			TranscriptName: name,
			ResolvedEmail:  "john@x.com",
			ResolvedName:   "John Smith",
			CreatedBy:      "alice",
		}))
	}
	require.NoError(t, store.Close())
}

func mappingNames(t *testing.T, path string) []string {
	t.Helper()
	store, err := sqlite.NewMappingStore(path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	mappings, err := store.List(context.Background(), "proj-1")
	require.NoError(t, err)
	names := make([]string, 0, len(mappings))
	for _, m := range mappings {
		names = append(names, m.TranscriptName)
	}
	return names
}

func newService(t *testing.T) (*backup.Service, string) {
	t.Helper()
	base := t.TempDir()
	dbPath := filepath.Join(base, "rollcall.db")
	svc, err := backup.NewService(backup.Config{
		DBPath: dbPath,
		Dir:    filepath.Join(base, "backups"),
	}, nil)
	require.NoError(t, err)
	return svc, dbPath
}

func TestNewService_RequiresPaths(t *testing.T) {
	_, err := backup.NewService(backup.Config{Dir: "x"}, nil)
	assert.Error(t, err)
	_, err = backup.NewService(backup.Config{DBPath: "x"}, nil)
	assert.Error(t, err)
}

func TestSnapshot_WritesVerifiedCopy(t *testing.T) {
	svc, dbPath := newService(t)
	newMappingDB(t, dbPath, "Speaker 1")

	snap, err := svc.Snapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Verified)
	assert.Positive(t, snap.Size)
	assert.FileExists(t, snap.Path)

	assert.Equal(t, []string{"Speaker 1"}, mappingNames(t, snap.Path))

	snapshots, err := svc.List()
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, snap.Path, snapshots[0].Path)
}

func TestSnapshot_MissingDatabase(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Snapshot(context.Background())
	assert.Error(t, err)
}

func TestLatest_NoSnapshots(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Latest()
	assert.ErrorIs(t, err, backup.ErrNoSnapshots)
}

func TestRestore_ReplacesDatabaseAndKeepsPreRestoreCopy(t *testing.T) {
	svc, dbPath := newService(t)
	ctx := context.Background()
	newMappingDB(t, dbPath, "Speaker 1")

	first, err := svc.Snapshot(ctx)
	require.NoError(t, err)

	newMappingDB(t, dbPath, "Speaker 2")
	require.ElementsMatch(t, []string{"Speaker 1", "Speaker 2"}, mappingNames(t, dbPath))

	require.NoError(t, svc.Restore(ctx, first.Path))
	assert.Equal(t, []string{"Speaker 1"}, mappingNames(t, dbPath))

	// The database as it was before the restore is kept as a new snapshot.
	latest, err := svc.Latest()
	require.NoError(t, err)
	assert.NotEqual(t, first.Path, latest.Path)
	assert.ElementsMatch(t, []string{"Speaker 1", "Speaker 2"}, mappingNames(t, latest.Path))
}

func TestRestore_RejectsNonMappingDatabase(t *testing.T) {
	svc, dbPath := newService(t)
	newMappingDB(t, dbPath, "Speaker 1")

	bogus := filepath.Join(t.TempDir(), "bogus.db")
	require.NoError(t, os.WriteFile(bogus, []byte("not a database"), 0o644))

	err := svc.Restore(context.Background(), bogus)
	assert.Error(t, err)
	assert.Equal(t, []string{"Speaker 1"}, mappingNames(t, dbPath), "database is untouched")
}
