package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Keys locates the two documents the archiver persists
type Keys struct {
	Ledger  string
	Batches string
}

// NewKeys builds the document keys under prefix
func NewKeys(prefix string) Keys {
	return Keys{
		Ledger:  prefix + "repositories.json",
		Batches: prefix + "archived.json",
	}
}

// ReadRecords decodes the JSON array stored under key.
// A missing or empty object reads as an empty list.
func ReadRecords[T any](ctx context.Context, store BlobStore, key string) ([]T, error) {
	data, err := store.Read(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return []T{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []T{}, nil
	}

	var records []T
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	if records == nil {
		records = []T{}
	}
	return records, nil
}

// WriteRecords stores records under key as an indented JSON array
func WriteRecords[T any](ctx context.Context, store BlobStore, key string, records []T) error {
	if records == nil {
		records = []T{}
	}
	data, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := store.Write(ctx, key, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}
