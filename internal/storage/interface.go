package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"time"
)

// ErrNotFound is returned when no object is stored under a key
var ErrNotFound = errors.New("object not found")

// ObjectInfo describes a stored object without its contents
type ObjectInfo struct {
	Key       string
	ETag      string
	Size      int64
	UpdatedAt time.Time
}

// BlobStore is the abstract interface for the persistence layer.
// Objects are whole JSON documents addressed by key.
type BlobStore interface {
	// Read returns the object stored under key, or ErrNotFound
	Read(ctx context.Context, key string) ([]byte, error)

	// Write replaces the object stored under key
	Write(ctx context.Context, key string, data []byte) error

	// Stat returns the object's metadata, or ErrNotFound
	Stat(ctx context.Context, key string) (*ObjectInfo, error)

	// Connection management
	Close() error
}

// ComputeETag returns the content hash stored alongside objects by
// backends that do not provide their own
func ComputeETag(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
