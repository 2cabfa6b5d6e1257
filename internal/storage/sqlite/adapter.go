package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kurihiro0119/github-repo-archiver/internal/storage"
)

// sqliteStorage implements the BlobStore interface for SQLite
type sqliteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (storage.BlobStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	s := &sqliteStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *sqliteStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS blobs (
		key TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		etag TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Read returns the object stored under key
func (s *sqliteStorage) Read(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Write upserts the object stored under key
func (s *sqliteStorage) Write(ctx context.Context, key string, data []byte) error {
	query := `
		INSERT INTO blobs (key, data, etag, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			data = excluded.data,
			etag = excluded.etag,
			updated_at = excluded.updated_at
	`

	if data == nil {
		data = []byte{}
	}
	_, err := s.db.ExecContext(ctx, query, key, data, storage.ComputeETag(data), time.Now().UTC())
	return err
}

// Stat returns the object's metadata
func (s *sqliteStorage) Stat(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	info := &storage.ObjectInfo{Key: key}
	err := s.db.QueryRowContext(ctx, `
		SELECT etag, length(data), updated_at FROM blobs WHERE key = ?
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
func (s *sqliteStorage) Close() error {
	return s.db.Close()
}
