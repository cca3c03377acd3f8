package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileYieldsEmptyStore(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "vector_state.json")

	store, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0, store.Len())

	_, ok := store.Get("anything.json")
	assert.False(t, ok)
}

func TestLoad_CorruptFileIsFatal(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "vector_state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, IsCorruptionError(err))
}

func TestStore_CommitAndReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state", "vector_state.json")

	store, err := Load(path)
	require.NoError(t, err)

	store.Upsert("leave_policy.json", Entry{
		RemoteID:     "file-abc",
		ContentHash:  "deadbeef",
		LastSyncedAt: "2025-08-24T10:00:00Z",
		DocumentType: "Policy",
		Title:        "Leave Policy",
	})
	require.NoError(t, store.Commit())

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 1, reloaded.Len())

	entry, ok := reloaded.Get("leave_policy.json")
	require.True(t, ok)
	assert.Equal(t, "file-abc", entry.RemoteID)
	assert.Equal(t, "deadbeef", entry.ContentHash)
	assert.Equal(t, "Policy", entry.DocumentType)
}

func TestStore_RemoveIsDurableAfterCommit(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "vector_state.json")

	store, err := Load(path)
	require.NoError(t, err)
	store.Upsert("a.json", Entry{RemoteID: "file-a", ContentHash: "h1"})
	store.Upsert("b.json", Entry{RemoteID: "file-b", ContentHash: "h2"})
	require.NoError(t, store.Commit())

	store.Remove("a.json")
	require.NoError(t, store.Commit())

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.Len())
	_, ok := reloaded.Get("a.json")
	assert.False(t, ok)
}

func TestStore_CommitLeavesNoTempFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "vector_state.json")

	store, err := Load(path)
	require.NoError(t, err)
	store.Upsert("a.json", Entry{RemoteID: "file-a", ContentHash: "h1"})
	require.NoError(t, store.Commit())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "vector_state.json", entries[0].Name())
}

func TestStore_ExternalIDsSorted(t *testing.T) {
	t.Parallel()

	store, err := Load(filepath.Join(t.TempDir(), "vector_state.json"))
	require.NoError(t, err)
	store.Upsert("c.json", Entry{})
	store.Upsert("a.json", Entry{})
	store.Upsert("b.json", Entry{})

	assert.Equal(t, []string{"a.json", "b.json", "c.json"}, store.ExternalIDs())
}

func TestLoad_LegacyFileWithUnknownFields(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "vector_state.json")
	legacy := `{"docs":{"x.json":{"fileId":"file-x","contentHash":"h","lastSyncedAt":"2024-01-01T00:00:00Z","custom":"ignored"}}}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0600))

	store, err := Load(path)
	require.NoError(t, err)

	entry, ok := store.Get("x.json")
	require.True(t, ok)
	assert.Equal(t, "file-x", entry.RemoteID)
}
