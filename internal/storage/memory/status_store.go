package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/link-crawler/internal/crawler"
)

// Row mirrors one status table row.
type Row struct {
	ID             uint64
	URL            string
	Fetched        *time.Time
	FetchErr       *string
	FetchedVia     *string
	FoundInArchive *bool
}

// StatusStore is an in-memory crawler.StatusStore. Rows must be seeded
// before they can be updated, like rows inserted upstream by the enqueuer.
type StatusStore struct {
	mu   sync.RWMutex
	rows map[string]*Row
	byID map[uint64]string
}

// NewStatusStore creates an empty StatusStore.
func NewStatusStore() *StatusStore {
	return &StatusStore{
		rows: make(map[string]*Row),
		byID: make(map[uint64]string),
	}
}

// Seed inserts an untouched row for id/url if none exists.
func (s *StatusStore) Seed(id uint64, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[url]; ok {
		return
	}
	s.rows[url] = &Row{ID: id, URL: url}
	s.byID[id] = url
}

// Row returns a copy of the row for url.
func (s *StatusStore) Row(url string) (Row, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rows[url]
	if !ok {
		return Row{}, false
	}
	return *r, true
}

// IsCrawled implements crawler.StatusStore.
func (s *StatusStore) IsCrawled(_ context.Context, id uint64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	url, ok := s.byID[id]
	if !ok {
		return false, nil
	}
	r := s.rows[url]
	return r.Fetched != nil && r.FetchErr == nil, nil
}

// MarkFetched implements crawler.StatusStore.
func (s *StatusStore) MarkFetched(_ context.Context, url string, fetched time.Time, via crawler.Via) error {
	return s.update(url, func(r *Row) {
		r.Fetched = &fetched
		r.FetchErr = nil
		r.FetchedVia = via.Column()
	})
}

// MarkFailed implements crawler.StatusStore.
func (s *StatusStore) MarkFailed(_ context.Context, url string, fetched time.Time, code string) error {
	return s.update(url, func(r *Row) {
		r.Fetched = &fetched
		r.FetchErr = &code
		r.FetchedVia = nil
	})
}

// SetFoundInArchive implements crawler.StatusStore.
func (s *StatusStore) SetFoundInArchive(_ context.Context, url string, found bool) error {
	return s.update(url, func(r *Row) {
		r.FoundInArchive = &found
	})
}

func (s *StatusStore) update(url string, fn func(*Row)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[url]
	if !ok {
		return crawler.ErrNotFound
	}
	fn(r)
	return nil
}
