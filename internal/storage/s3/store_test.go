package s3

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-repo-archiver/internal/storage"
)

// bucketServer answers bucket and object HEAD requests for one bucket
type bucketServer struct {
	mu          sync.Mutex
	denyChecks  int
	bucketHeads int
}

func (b *bucketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := strings.Trim(r.URL.Path, "/")
	switch {
	case r.Method == http.MethodHead && path == "archiver":
		b.bucketHeads++
		if b.denyChecks > 0 {
			b.denyChecks--
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodHead && strings.HasPrefix(path, "archiver/"):
		w.WriteHeader(http.StatusNotFound)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func (b *bucketServer) heads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bucketHeads
}

func newTestStore(t *testing.T, handler http.Handler) storage.BlobStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store, err := NewS3Storage(Config{
		Endpoint:  strings.TrimPrefix(server.URL, "http://"),
		AccessKey: "access",
		SecretKey: "secret",
		Bucket:    "archiver",
	})
	require.NoError(t, err)
	return store
}

func TestEnsureBucket_RetriesAfterFailure(t *testing.T) {
	backend := &bucketServer{denyChecks: 1}
	store := newTestStore(t, backend)
	ctx := context.Background()

	_, err := store.Stat(ctx, "repo-archive/repositories.json")
	require.Error(t, err)
	assert.False(t, errors.Is(err, storage.ErrNotFound))
	assert.Contains(t, err.Error(), "ensure bucket")

	_, err = store.Stat(ctx, "repo-archive/repositories.json")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, 2, backend.heads())

	// a confirmed bucket is not checked again
	_, err = store.Stat(ctx, "repo-archive/archived.json")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, 2, backend.heads())
}

func TestNewS3Storage_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no endpoint", Config{AccessKey: "a", SecretKey: "s", Bucket: "b"}},
		{"no credentials", Config{Endpoint: "localhost:9000", Bucket: "b"}},
		{"no bucket", Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewS3Storage(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		code     string
		notFound bool
	}{
		{"NoSuchKey", true},
		{"NoSuchBucket", true},
		{"AccessDenied", false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := translate(minio.ErrorResponse{Code: tt.code, StatusCode: http.StatusNotFound})
			assert.Equal(t, tt.notFound, errors.Is(err, storage.ErrNotFound))
		})
	}
}
