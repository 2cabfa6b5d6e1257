package bolt

import (
	"context"
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"

	"github.com/kurihiro0119/github-repo-archiver/internal/storage"
)

const (
	bucketBlobs = "blobs" // key -> document
	bucketMeta  = "meta"  // key -> meta JSON
)

type meta struct {
	ETag      string    `json:"etag"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// boltStorage implements the BlobStore interface on an embedded bbolt file
type boltStorage struct {
	db *bbolt.DB
}

// NewBoltStorage opens or creates the database file at path
func NewBoltStorage(path string) (storage.BlobStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketBlobs)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketMeta)); err != nil {
			return err
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &boltStorage{db: db}, nil
}

func (b *boltStorage) Read(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(bucketBlobs)).Get([]byte(key))
		if v == nil {
			return storage.ErrNotFound
		}
		// bbolt values are only valid for the life of the transaction
		data = append([]byte{}, v...)
		return nil
	})
	return data, err
}

func (b *boltStorage) Write(ctx context.Context, key string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	m, err := json.Marshal(meta{
		ETag:      storage.ComputeETag(data),
		Size:      int64(len(data)),
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(bucketBlobs)).Put([]byte(key), data); err != nil {
			return err
		}
		return tx.Bucket([]byte(bucketMeta)).Put([]byte(key), m)
	})
}

func (b *boltStorage) Stat(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	var m meta
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(bucketMeta)).Get([]byte(key))
		if v == nil {
			return storage.ErrNotFound
		}
		return json.Unmarshal(v, &m)
	})
	if err != nil {
		return nil, err
	}
	return &storage.ObjectInfo{
		Key:       key,
		ETag:      m.ETag,
		Size:      m.Size,
		UpdatedAt: m.UpdatedAt,
	}, nil
}

func (b *boltStorage) Close() error {
	return b.db.Close()
}
