package storage

import (
	"context"
	"errors"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of objects a CachedStore keeps
const DefaultCacheSize = 64

type cachedObject struct {
	etag string
	data []byte
}

// CachedStore wraps a BlobStore with an LRU cache keyed by object ETag.
// It remembers the version of every object it last read or wrote, which
// HasChanged compares against the backend.
type CachedStore struct {
	store BlobStore
	cache *lru.Cache[string, cachedObject]
}

// NewCachedStore wraps store with a cache holding up to size objects
func NewCachedStore(store BlobStore, size int) (*CachedStore, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, cachedObject](size)
	if err != nil {
		return nil, err
	}
	return &CachedStore{store: store, cache: cache}, nil
}

// Read returns the cached copy when the backend still holds the same version
func (c *CachedStore) Read(ctx context.Context, key string) ([]byte, error) {
	info, err := c.store.Stat(ctx, key)
	if errors.Is(err, ErrNotFound) {
		c.cache.Remove(key)
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if cached, ok := c.cache.Get(key); ok && cached.etag == info.ETag {
		return clone(cached.data), nil
	}

	data, err := c.store.Read(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.cache.Remove(key)
		}
		return nil, err
	}
	c.cache.Add(key, cachedObject{etag: info.ETag, data: clone(data)})
	return data, nil
}

// Write stores data and records the new version
func (c *CachedStore) Write(ctx context.Context, key string, data []byte) error {
	if err := c.store.Write(ctx, key, data); err != nil {
		c.cache.Remove(key)
		return err
	}
	info, err := c.store.Stat(ctx, key)
	if err != nil {
		c.cache.Remove(key)
		return nil
	}
	c.cache.Add(key, cachedObject{etag: info.ETag, data: clone(data)})
	return nil
}

// Stat passes through to the backend
func (c *CachedStore) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	return c.store.Stat(ctx, key)
}

// HasChanged reports whether the object under key differs from the version
// last read or written through this store. An object never seen here has
// changed if it exists.
func (c *CachedStore) HasChanged(ctx context.Context, key string) (bool, error) {
	info, err := c.store.Stat(ctx, key)
	cached, seen := c.cache.Peek(key)
	if errors.Is(err, ErrNotFound) {
		return seen, nil
	}
	if err != nil {
		return false, err
	}
	return !seen || cached.etag != info.ETag, nil
}

// Close closes the backend
func (c *CachedStore) Close() error {
	c.cache.Purge()
	return c.store.Close()
}

func clone(data []byte) []byte {
	return append([]byte(nil), data...)
}
