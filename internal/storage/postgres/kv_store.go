package postgres

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// KVStore implements crawler.BlobStore on a key/value table.
type KVStore struct {
	db    Querier
	table string
}

// NewKVStore creates a KVStore over table (default "kv").
func NewKVStore(db Querier, table string) (*KVStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, "kv")
	if err != nil {
		return nil, err
	}
	return &KVStore{db: db, table: table}, nil
}

// PutObject upserts the value at path. The content type is not stored.
func (s *KVStore) PutObject(ctx context.Context, path string, _ string, data io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	value, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read value: %w", err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (k, v) VALUES ($1, $2) ON CONFLICT (k) DO UPDATE SET v = EXCLUDED.v`, s.table)
	if _, err := s.db.Exec(ctx, query, path, value); err != nil {
		return "", fmt.Errorf("upsert %s: %w", path, err)
	}
	return fmt.Sprintf("postgres://%s/%s", s.table, path), nil
}
