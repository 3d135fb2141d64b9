package client

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/maneesh/cloudchest/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStateStoreRoundTrip(t *testing.T) {
	store, err := NewFileStateStore(t.TempDir())
	require.NoError(t, err)

	state := &UploadState{
		UploadID: "mpu-abc123",
		FileID:   "file-1",
		FileName: "video.mp4",
		FileSize: 150 << 20,
		UploadedParts: []models.PartETag{
			{PartNumber: 1, ETag: "e1"},
			{PartNumber: 2, ETag: "e2"},
		},
		PartHashes: []string{"h1", "h2"},
		LastUpdate: time.Now(),
	}
	require.NoError(t, store.Save(state))

	loaded, err := store.Load("mpu-abc123")
	require.NoError(t, err)
	assert.Equal(t, state.FileID, loaded.FileID)
	assert.Equal(t, state.FileSize, loaded.FileSize)
	assert.Equal(t, state.UploadedParts, loaded.UploadedParts)
	assert.Equal(t, state.PartHashes, loaded.PartHashes)

	// Saving again replaces, not appends.
	state.UploadedParts = append(state.UploadedParts, models.PartETag{PartNumber: 3, ETag: "e3"})
	require.NoError(t, store.Save(state))
	loaded, err = store.Load("mpu-abc123")
	require.NoError(t, err)
	assert.Len(t, loaded.UploadedParts, 3)

	require.NoError(t, store.Delete("mpu-abc123"))
	_, err = store.Load("mpu-abc123")
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestFileStateStoreMissingState(t *testing.T) {
	store, err := NewFileStateStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Load("never-saved")
	assert.ErrorIs(t, err, ErrStateNotFound)

	// Deleting absent state is not an error.
	assert.NoError(t, store.Delete("never-saved"))
}

func TestFileStateStoreSanitizesUploadIDs(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStateStore(dir)
	require.NoError(t, err)

	// Object-store upload IDs can contain path-hostile characters.
	hostile := "a/b\\c:d~e+f=="
	state := &UploadState{UploadID: hostile, FileID: "f", FileName: "n", FileSize: 1}
	require.NoError(t, store.Save(state))

	loaded, err := store.Load(hostile)
	require.NoError(t, err)
	assert.Equal(t, hostile, loaded.UploadID)

	// Everything stays inside the state directory.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, dir, filepath.Dir(filepath.Join(dir, entries[0].Name())))
}
