// Package storagetest checks BlobStore implementations against the
// behaviour the archiver relies on.
package storagetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-repo-archiver/internal/storage"
)

// Run exercises a fresh store returned by newStore
func Run(t *testing.T, newStore func(t *testing.T) storage.BlobStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		store := newStore(t)

		_, err := store.Read(ctx, "repo-archive/repositories.json")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		_, err = store.Stat(ctx, "repo-archive/repositories.json")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("write then read", func(t *testing.T) {
		store := newStore(t)
		data := []byte(`[{"name": "svc"}]`)

		require.NoError(t, store.Write(ctx, "repo-archive/repositories.json", data))

		got, err := store.Read(ctx, "repo-archive/repositories.json")
		require.NoError(t, err)
		assert.Equal(t, data, got)

		info, err := store.Stat(ctx, "repo-archive/repositories.json")
		require.NoError(t, err)
		assert.Equal(t, int64(len(data)), info.Size)
		assert.NotEmpty(t, info.ETag)
	})

	t.Run("overwrite changes etag", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.Write(ctx, "k", []byte("[]")))
		before, err := store.Stat(ctx, "k")
		require.NoError(t, err)

		require.NoError(t, store.Write(ctx, "k", []byte(`[{"name": "a"}]`)))
		after, err := store.Stat(ctx, "k")
		require.NoError(t, err)
		assert.NotEqual(t, before.ETag, after.ETag)

		got, err := store.Read(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, `[{"name": "a"}]`, string(got))
	})

	t.Run("keys are independent", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.Write(ctx, "a", []byte("1")))
		require.NoError(t, store.Write(ctx, "b", []byte("2")))

		a, err := store.Read(ctx, "a")
		require.NoError(t, err)
		b, err := store.Read(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, "1", string(a))
		assert.Equal(t, "2", string(b))
	})

	t.Run("empty object", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.Write(ctx, "empty", nil))
		got, err := store.Read(ctx, "empty")
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}
