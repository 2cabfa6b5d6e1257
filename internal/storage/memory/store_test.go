package memory

import (
	"testing"

	"github.com/kurihiro0119/github-repo-archiver/internal/storage"
	"github.com/kurihiro0119/github-repo-archiver/internal/storage/storagetest"
)

func TestMemoryStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.BlobStore {
		return NewMemoryStorage()
	})
}
