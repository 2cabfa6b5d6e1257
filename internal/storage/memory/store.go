package memory

import (
	"context"
	"sync"
	"time"

	"github.com/kurihiro0119/github-repo-archiver/internal/storage"
)

type object struct {
	data      []byte
	etag      string
	updatedAt time.Time
}

// memoryStorage implements BlobStore in process memory
type memoryStorage struct {
	mu      sync.RWMutex
	objects map[string]object
}

// NewMemoryStorage creates an empty in-memory store
func NewMemoryStorage() storage.BlobStore {
	return &memoryStorage{objects: make(map[string]object)}
}

func (s *memoryStorage) Read(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), obj.data...), nil
}

func (s *memoryStorage) Write(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = object{
		data:      append([]byte(nil), data...),
		etag:      storage.ComputeETag(data),
		updatedAt: time.Now().UTC(),
	}
	return nil
}

func (s *memoryStorage) Stat(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &storage.ObjectInfo{
		Key:       key,
		ETag:      obj.etag,
		Size:      int64(len(obj.data)),
		UpdatedAt: obj.updatedAt,
	}, nil
}

func (s *memoryStorage) Close() error {
	return nil
}
