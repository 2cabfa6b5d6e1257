// Package backend opens the BlobStore selected by configuration.
package backend

import (
	"fmt"

	"github.com/kurihiro0119/github-repo-archiver/internal/config"
	"github.com/kurihiro0119/github-repo-archiver/internal/storage"
	"github.com/kurihiro0119/github-repo-archiver/internal/storage/bolt"
	"github.com/kurihiro0119/github-repo-archiver/internal/storage/memory"
	"github.com/kurihiro0119/github-repo-archiver/internal/storage/postgres"
	"github.com/kurihiro0119/github-repo-archiver/internal/storage/s3"
	"github.com/kurihiro0119/github-repo-archiver/internal/storage/sqlite"
)

// Open initializes the configured backend wrapped in a CachedStore
func Open(cfg *config.Config) (*storage.CachedStore, error) {
	var (
		store storage.BlobStore
		err   error
	)

	switch cfg.StorageType {
	case config.StoragePostgres:
		store, err = postgres.NewPostgresStorage(cfg.PostgresURL)
	case config.StorageS3:
		store, err = s3.NewS3Storage(s3.Config{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
			UseSSL:    cfg.S3.UseSSL,
		})
	case config.StorageBolt:
		store, err = bolt.NewBoltStorage(cfg.BoltPath)
	case config.StorageMemory:
		store = memory.NewMemoryStorage()
	case config.StorageSQLite, "":
		store, err = sqlite.NewSQLiteStorage(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.StorageType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s storage: %w", cfg.StorageType, err)
	}

	cached, err := storage.NewCachedStore(store, storage.DefaultCacheSize)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return cached, nil
}
