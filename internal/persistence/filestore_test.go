package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskrelay/dispatchd/internal/dispatch"
)

func TestWriteThenReadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	snap := dispatch.RoundSnapshot{
		RoundID:      "round-1",
		PendingQueue: []string{"t1", "t2"},
	}
	ctx := context.Background()
	require.NoError(t, store.Write(ctx, "round-1", snap))

	got, err := store.Read(ctx, "round-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, snap.RoundID, got.RoundID)
	assert.Equal(t, snap.PendingQueue, got.PendingQueue)
}

func TestReadMissingRoundReturnsNilNotError(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)

	got, err := store.Read(context.Background(), "never-written")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestWriteLeavesNoTempFilesBehind(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	require.NoError(t, store.Write(context.Background(), "round-1", dispatch.RoundSnapshot{RoundID: "round-1"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "round-1.json", entries[0].Name())
}

func TestDeleteIsIdempotent(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)

	assert.NoError(t, store.Delete(context.Background(), "never-existed"))

	require.NoError(t, store.Write(context.Background(), "round-1", dispatch.RoundSnapshot{RoundID: "round-1"}))
	assert.NoError(t, store.Delete(context.Background(), "round-1"))
	assert.NoError(t, store.Delete(context.Background(), "round-1"))
}

func TestListRoundIDsIgnoresNonJSONAndHiddenFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	require.NoError(t, store.Write(context.Background(), "round-1", dispatch.RoundSnapshot{RoundID: "round-1"}))
	require.NoError(t, store.Write(context.Background(), "round-2", dispatch.RoundSnapshot{RoundID: "round-2"}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.json"), []byte("{}"), 0o644))

	ids, err := store.ListRoundIDs()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"round-1", "round-2"}, ids)
}
