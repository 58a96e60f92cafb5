// Package worker drains a task queue and runs each task through a fetch handler.
package worker

import (
	"context"
	"time"

	"github.com/JakeFAU/link-crawler/internal/crawler"
)

// Delivery is one decoded task handed to a Handler.
type Delivery struct {
	Task crawler.CrawlTask
	// Attempt is the queue's delivery count, 0 when the queue does not report it.
	Attempt int
	// Final is set when this delivery reached the attempt cap; a retryable
	// failure must then be recorded as permanent.
	Final bool

	extend func(ctx context.Context, visibility time.Duration) error
}

// ExtendLease keeps the message invisible for visibility from now. It is a
// no-op when the delivery did not come from a queue.
func (d Delivery) ExtendLease(ctx context.Context, visibility time.Duration) error {
	if d.extend == nil {
		return nil
	}
	return d.extend(ctx, visibility)
}

// Handler processes one task and tells the loop what to do with its message.
type Handler interface {
	Handle(ctx context.Context, d Delivery) crawler.Result
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, d Delivery) crawler.Result

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, d Delivery) crawler.Result { return f(ctx, d) }

// Recorder persists crawl outcomes.
type Recorder interface {
	AlreadyCrawled(ctx context.Context, id uint64) (bool, error)
	RecordSuccess(
		ctx context.Context,
		id uint64,
		url string,
		fetchedAt time.Time,
		via crawler.Via,
		meta crawler.ExtractedMeta,
		text string,
	) error
	RecordPermanentFailure(ctx context.Context, url string, fetchedAt time.Time, code string) error
	RecordArchiveProbe(ctx context.Context, url string, found bool) error
}

// Extractor turns an HTML body into metadata and text.
type Extractor interface {
	Extract(ctx context.Context, body []byte) (crawler.ExtractedMeta, string, error)
}

// Sleeper is a clock that can also wait.
type Sleeper interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Deferral reasons that are not fetch error codes.
const (
	ReasonSkip      = "skip"
	ReasonRateLimit = "rate_limit"
	ReasonCanceled  = "canceled"
	ReasonStore     = "store"
	ReasonExtract   = "extract"
)
