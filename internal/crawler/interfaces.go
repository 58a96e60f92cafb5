package crawler

import (
	"context"
	"io"
	"time"
)

// Message is one leased queue delivery.
type Message struct {
	// Handle identifies the lease (receipt handle or ack id).
	Handle string
	Body   []byte
	// Attempt is the delivery count reported by the queue, 0 when unknown.
	Attempt int
	// Attributes carries transport metadata such as trace propagation headers.
	Attributes map[string]string
}

// Queue provides lease-based delivery: a polled message stays invisible until
// its visibility timeout elapses or it is deleted.
type Queue interface {
	Poll(ctx context.Context, limit int, visibility time.Duration) ([]Message, error)
	Delete(ctx context.Context, msg Message) error
	ExtendVisibility(ctx context.Context, msg Message, visibility time.Duration) error
}

// StatusStore persists per-URL crawl outcomes.
type StatusStore interface {
	// IsCrawled reports whether the row for id has fetched set and no fetch error.
	IsCrawled(ctx context.Context, id uint64) (bool, error)
	MarkFetched(ctx context.Context, url string, fetched time.Time, via Via) error
	MarkFailed(ctx context.Context, url string, fetched time.Time, code string) error
	SetFoundInArchive(ctx context.Context, url string, found bool) error
}

// BlobStore writes raw artifacts and returns a URI. Writes to an existing path overwrite it.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// HTTPClient performs a single GET and classifies failures as *FetchError.
// A non-2xx response is returned alongside a status FetchError.
type HTTPClient interface {
	Get(ctx context.Context, url string, headers map[string]string) (FetchResponse, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }
