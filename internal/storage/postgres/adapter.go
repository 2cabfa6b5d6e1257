package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/kurihiro0119/github-repo-archiver/internal/storage"
)

// postgresStorage implements the BlobStore interface for PostgreSQL
type postgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(connStr string) (storage.BlobStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &postgresStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *postgresStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS blobs (
		key TEXT PRIMARY KEY,
		data BYTEA NOT NULL,
		etag TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Read returns the object stored under key
func (s *postgresStorage) Read(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE key = $1`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Write upserts the object stored under key
func (s *postgresStorage) Write(ctx context.Context, key string, data []byte) error {
	query := `
		INSERT INTO blobs (key, data, etag, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET
			data = EXCLUDED.data,
			etag = EXCLUDED.etag,
			updated_at = EXCLUDED.updated_at
	`

	if data == nil {
		data = []byte{}
	}
	_, err := s.db.ExecContext(ctx, query, key, data, storage.ComputeETag(data), time.Now().UTC())
	return err
}

// Stat returns the object's metadata
func (s *postgresStorage) Stat(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	info := &storage.ObjectInfo{Key: key}
	err := s.db.QueryRowContext(ctx, `
		SELECT etag, octet_length(data), updated_at FROM blobs WHERE key = $1
	`, key).Scan(&info.ETag, &info.Size, &info.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return info, nil
}

// Close closes the database connection
func (s *postgresStorage) Close() error {
	return s.db.Close()
}
