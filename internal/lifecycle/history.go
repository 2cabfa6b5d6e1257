package lifecycle

import (
	"context"

	"github.com/kurihiro0119/github-repo-archiver/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-archiver/internal/errors"
	"github.com/kurihiro0119/github-repo-archiver/internal/storage"
)

// History is the append-only record of archive batches
type History struct {
	store storage.BlobStore
	key   string
}

// NewHistory creates a batch history stored under key
func NewHistory(store storage.BlobStore, key string) *History {
	return &History{store: store, key: key}
}

// Load reads every batch in creation order
func (h *History) Load(ctx context.Context) ([]*domain.ArchiveBatch, error) {
	records, err := storage.ReadRecords[*domain.ArchiveBatch](ctx, h.store, h.key)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to read batch history", err)
	}
	batches := make([]*domain.ArchiveBatch, 0, len(records))
	for _, b := range records {
		if b == nil {
			continue
		}
		if b.Repos == nil {
			b.Repos = []domain.ArchiveOutcome{}
		}
		batches = append(batches, b)
	}
	return batches, nil
}

// Save replaces the stored history
func (h *History) Save(ctx context.Context, batches []*domain.ArchiveBatch) error {
	if err := storage.WriteRecords(ctx, h.store, h.key, batches); err != nil {
		return apperrors.NewInternalError("failed to save batch history", err)
	}
	return nil
}
