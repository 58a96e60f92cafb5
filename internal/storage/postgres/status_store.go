package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/link-crawler/internal/crawler"
)

// StatusStore reads and updates per-URL crawl status rows.
type StatusStore struct {
	db    Querier
	table string
}

// NewStatusStore creates a StatusStore over table (default "url").
func NewStatusStore(db Querier, table string) (*StatusStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, "url")
	if err != nil {
		return nil, err
	}
	return &StatusStore{db: db, table: table}, nil
}

// IsCrawled implements crawler.StatusStore.
func (s *StatusStore) IsCrawled(ctx context.Context, id uint64) (bool, error) {
	query := fmt.Sprintf(`SELECT true FROM %s WHERE id = $1 AND fetched IS NOT NULL AND fetch_err IS NULL`, s.table)
	var done bool
	err := s.db.QueryRow(ctx, query, int64(id)).Scan(&done)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query crawl status: %w", err)
	}
	return done, nil
}

// MarkFetched implements crawler.StatusStore.
func (s *StatusStore) MarkFetched(ctx context.Context, url string, fetched time.Time, via crawler.Via) error {
	query := fmt.Sprintf(`UPDATE %s SET fetched = $1, fetch_err = NULL, fetched_via = $2 WHERE url = $3`, s.table)
	return s.update(ctx, "mark fetched", query, fetched, via.Column(), url)
}

// MarkFailed implements crawler.StatusStore.
func (s *StatusStore) MarkFailed(ctx context.Context, url string, fetched time.Time, code string) error {
	query := fmt.Sprintf(`UPDATE %s SET fetched = $1, fetch_err = $2, fetched_via = NULL WHERE url = $3`, s.table)
	return s.update(ctx, "mark failed", query, fetched, code, url)
}

// SetFoundInArchive implements crawler.StatusStore.
func (s *StatusStore) SetFoundInArchive(ctx context.Context, url string, found bool) error {
	query := fmt.Sprintf(`UPDATE %s SET found_in_archive = $1 WHERE url = $2`, s.table)
	return s.update(ctx, "set found_in_archive", query, found, url)
}

func (s *StatusStore) update(ctx context.Context, op string, query string, args ...any) error {
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, crawler.ErrNotFound)
	}
	return nil
}
