package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/link-crawler/internal/archive"
	"github.com/JakeFAU/link-crawler/internal/crawler"
	"github.com/JakeFAU/link-crawler/internal/progress"
)

// ArchiveRouter looks a URL up in one archive backend.
type ArchiveRouter interface {
	// Pending is the backoff wait the next Fetch will sleep first.
	Pending() time.Duration
	Fetch(ctx context.Context, pageURL string) (archive.Result, error)
}

// ArchiveHandler recovers pages from web archives for links whose origin is gone.
type ArchiveHandler struct {
	router    ArchiveRouter
	lease     time.Duration
	extractor Extractor
	recorder  Recorder
	clock     crawler.Clock
	emitter   progress.Emitter
	logger    *zap.Logger
}

// NewArchiveHandler constructs an ArchiveHandler. Before a lookup that has to
// wait out a backoff, the message lease is extended to the wait plus lease.
func NewArchiveHandler(
	router ArchiveRouter,
	lease time.Duration,
	extractor Extractor,
	recorder Recorder,
	clock crawler.Clock,
	emitter progress.Emitter,
	logger *zap.Logger,
) *ArchiveHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = nopEmitter{}
	}
	return &ArchiveHandler{
		router:    router,
		lease:     lease,
		extractor: extractor,
		recorder:  recorder,
		clock:     clock,
		emitter:   emitter,
		logger:    logger,
	}
}

// Handle implements Handler.
func (h *ArchiveHandler) Handle(ctx context.Context, d Delivery) crawler.Result {
	task := d.Task
	evt := progress.Event{Pool: progress.PoolArchive, TaskID: task.ID, Origin: task.Origin(), URL: task.FullURL()}

	done, err := h.recorder.AlreadyCrawled(ctx, task.ID)
	if err != nil {
		return storeFailure(ctx, h.logger, h.emitter, evt, "status lookup failed", err)
	}
	if done {
		evt.Stage = progress.StageSkip
		h.emitter.Emit(evt)
		return crawler.Complete(ReasonSkip)
	}

	if wait := h.router.Pending(); wait > 0 {
		if err := d.ExtendLease(ctx, wait+h.lease); err != nil {
			h.logger.Warn("extend archive lease failed",
				zap.Uint64("task_id", task.ID),
				zap.Duration("wait", wait),
				zap.Error(err))
		}
	}

	started := h.clock.Now()
	res, err := h.router.Fetch(ctx, task.FullURL())
	if err != nil && ctx.Err() != nil {
		return crawler.Defer(ReasonCanceled)
	}
	evt.Via = string(res.Via)
	evt.Dur = res.Duration
	if err != nil {
		return h.lookupFailure(ctx, d, evt, crawler.AsFetchError(err))
	}

	lookup := evt
	lookup.Stage, lookup.Found = progress.StageArchive, res.Found
	h.emitter.Emit(lookup)

	if res.Found {
		meta, text, err := h.extractor.Extract(ctx, res.HTML)
		if err != nil {
			if ctx.Err() != nil {
				return crawler.Defer(ReasonCanceled)
			}
			h.logger.Warn("archive extraction failed", zap.Uint64("task_id", task.ID), zap.Error(err))
			evt.Stage, evt.Code = progress.StageDeferred, ReasonExtract
			h.emitter.Emit(evt)
			return crawler.Defer(ReasonExtract)
		}
		if err := h.recorder.RecordSuccess(ctx, task.ID, task.URL, started, res.Via, meta, text); err != nil {
			return storeFailure(ctx, h.logger, h.emitter, evt, "record archive success failed", err)
		}
	}
	if err := h.recorder.RecordArchiveProbe(ctx, task.URL, res.Found); err != nil {
		return storeFailure(ctx, h.logger, h.emitter, evt, "record archive probe failed", err)
	}

	if res.Found {
		evt.Stage = progress.StageFetchDone
		evt.StatusClass = progress.Status2xx
		evt.Bytes = int64(len(res.HTML))
		h.emitter.Emit(evt)
	}
	h.logger.Debug("archive lookup complete",
		zap.Uint64("task_id", task.ID),
		zap.String("via", string(res.Via)),
		zap.Bool("found", res.Found))
	return crawler.Complete("")
}

// lookupFailure defers retryable archive errors. Anything else is recorded as
// not found in the archive and the task is dropped. fetch_err is left as is.
func (h *ArchiveHandler) lookupFailure(
	ctx context.Context,
	d Delivery,
	evt progress.Event,
	fe *crawler.FetchError,
) crawler.Result {
	code := fe.Code()
	evt.Code = code
	if fe.Retryable() && !d.Final {
		h.logger.Debug("retryable archive failure",
			zap.Uint64("task_id", d.Task.ID),
			zap.String("via", evt.Via),
			zap.String("code", code),
			zap.Error(fe))
		evt.Stage = progress.StageDeferred
		h.emitter.Emit(evt)
		return crawler.Defer(code)
	}

	if err := h.recorder.RecordArchiveProbe(ctx, d.Task.URL, false); err != nil {
		return storeFailure(ctx, h.logger, h.emitter, evt, "record archive probe failed", err)
	}
	evt.Stage = progress.StageFetchError
	h.emitter.Emit(evt)
	return crawler.Fail(code)
}
