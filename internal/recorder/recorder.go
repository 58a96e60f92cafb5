// Package recorder persists crawl outcomes: extracted blobs first, then the
// status row that marks the URL as done.
package recorder

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/link-crawler/internal/crawler"
)

// Blob content types.
const (
	TextContentType = "text/plain; charset=utf-8"
	MetaContentType = "application/msgpack"
)

// TextPath returns the blob key holding a URL's extracted text.
func TextPath(id uint64) string { return fmt.Sprintf("url/%d/text", id) }

// MetaPath returns the blob key holding a URL's extracted metadata.
func MetaPath(id uint64) string { return fmt.Sprintf("url/%d/meta", id) }

// Recorder writes crawl outcomes to the status and blob stores.
type Recorder struct {
	status crawler.StatusStore
	blobs  crawler.BlobStore
	logger *zap.Logger
}

// New creates a Recorder.
func New(status crawler.StatusStore, blobs crawler.BlobStore, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{status: status, blobs: blobs, logger: logger}
}

// AlreadyCrawled reports whether id has a successful fetch recorded.
func (r *Recorder) AlreadyCrawled(ctx context.Context, id uint64) (bool, error) {
	done, err := r.status.IsCrawled(ctx, id)
	if err != nil {
		return false, fmt.Errorf("check crawled %d: %w", id, err)
	}
	return done, nil
}

// RecordSuccess stores text and meta for id, then marks url fetched. A
// failure writing either blob leaves the status row untouched.
func (r *Recorder) RecordSuccess(
	ctx context.Context,
	id uint64,
	url string,
	fetchedAt time.Time,
	via crawler.Via,
	meta crawler.ExtractedMeta,
	text string,
) error {
	metaBody, err := crawler.EncodeMeta(meta)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if _, err := r.blobs.PutObject(gctx, TextPath(id), TextContentType, strings.NewReader(text)); err != nil {
			return fmt.Errorf("put text: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if _, err := r.blobs.PutObject(gctx, MetaPath(id), MetaContentType, bytes.NewReader(metaBody)); err != nil {
			return fmt.Errorf("put meta: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("record success %d: %w", id, err)
	}

	if err := r.status.MarkFetched(ctx, url, fetchedAt, via); err != nil {
		return fmt.Errorf("record success %d: %w", id, err)
	}
	r.logger.Debug("recorded success",
		zap.Uint64("task_id", id),
		zap.String("via", string(via)),
		zap.Int("text_bytes", len(text)))
	return nil
}

// RecordPermanentFailure marks url as failed with code. Stored blobs are left alone.
func (r *Recorder) RecordPermanentFailure(ctx context.Context, url string, fetchedAt time.Time, code string) error {
	if err := r.status.MarkFailed(ctx, url, fetchedAt, code); err != nil {
		return fmt.Errorf("record failure %s: %w", url, err)
	}
	return nil
}

// RecordArchiveProbe stores whether an archived copy of url was found.
func (r *Recorder) RecordArchiveProbe(ctx context.Context, url string, found bool) error {
	if err := r.status.SetFoundInArchive(ctx, url, found); err != nil {
		return fmt.Errorf("record archive probe %s: %w", url, err)
	}
	return nil
}
