package extract

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/link-crawler/internal/crawler"
)

// Pool bounds how many extractions run at once so parsing bursts cannot
// starve the goroutines doing network I/O.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool creates a Pool admitting size concurrent extractions. size <= 0 uses GOMAXPROCS.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// Extract runs Extract once a slot is free.
func (p *Pool) Extract(ctx context.Context, body []byte) (crawler.ExtractedMeta, string, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return crawler.ExtractedMeta{}, "", fmt.Errorf("acquire extract slot: %w", err)
	}
	defer p.sem.Release(1)
	return Extract(body)
}
