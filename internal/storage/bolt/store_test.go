package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-repo-archiver/internal/storage"
	"github.com/kurihiro0119/github-repo-archiver/internal/storage/storagetest"
)

func TestBoltStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.BlobStore {
		store, err := NewBoltStorage(filepath.Join(t.TempDir(), "archiver.bolt"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestBoltStorage_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "archiver.bolt")

	store, err := NewBoltStorage(path)
	require.NoError(t, err)
	require.NoError(t, store.Write(ctx, "k", []byte(`[{"batchID": 1}]`)))
	before, err := store.Stat(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewBoltStorage(path)
	require.NoError(t, err)
	defer reopened.Close()

	after, err := reopened.Stat(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, before.ETag, after.ETag)
	assert.Equal(t, before.Size, after.Size)
}
