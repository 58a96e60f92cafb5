package worker

import (
	"context"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/link-crawler/internal/crawler"
	"github.com/JakeFAU/link-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/link-crawler/internal/progress"
)

// Request headers sent on direct fetches.
var directHeaders = map[string]string{
	"Accept":          "text/html,application/xhtml+xml",
	"Accept-Language": "en-US,en;q=0.5",
}

// DirectHandler fetches pages from their origin, gated by the per-origin limiter.
type DirectHandler struct {
	limiter   *ratelimit.Limiter
	client    crawler.HTTPClient
	extractor Extractor
	recorder  Recorder
	clock     crawler.Clock
	emitter   progress.Emitter
	logger    *zap.Logger
	denyLog   *rate.Sometimes
}

// NewDirectHandler constructs a DirectHandler.
func NewDirectHandler(
	limiter *ratelimit.Limiter,
	client crawler.HTTPClient,
	extractor Extractor,
	recorder Recorder,
	clock crawler.Clock,
	emitter progress.Emitter,
	logger *zap.Logger,
) *DirectHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = nopEmitter{}
	}
	return &DirectHandler{
		limiter:   limiter,
		client:    client,
		extractor: extractor,
		recorder:  recorder,
		clock:     clock,
		emitter:   emitter,
		logger:    logger,
		denyLog:   &rate.Sometimes{Interval: 10 * time.Second},
	}
}

// Handle implements Handler.
func (h *DirectHandler) Handle(ctx context.Context, d Delivery) crawler.Result {
	task := d.Task
	origin := task.Origin()
	evt := progress.Event{Pool: progress.PoolDirect, TaskID: task.ID, Origin: origin, URL: task.FullURL()}

	done, err := h.recorder.AlreadyCrawled(ctx, task.ID)
	if err != nil {
		return h.storeFailure(ctx, evt, "status lookup failed", err)
	}
	if done {
		evt.Stage = progress.StageSkip
		h.emitter.Emit(evt)
		return crawler.Complete(ReasonSkip)
	}

	if !h.limiter.CanRequest(origin) {
		h.denyLog.Do(func() {
			h.logger.Info("origin rate limited, deferring", zap.String("origin", origin))
		})
		evt.Stage, evt.Code = progress.StageDeferred, ReasonRateLimit
		h.emitter.Emit(evt)
		return crawler.Defer(ReasonRateLimit)
	}

	started := h.clock.Now()
	resp, err := h.fetch(ctx, task.FullURL())
	evt.Dur = resp.Duration
	if err != nil {
		if ctx.Err() != nil {
			return crawler.Defer(ReasonCanceled)
		}
		return h.fetchFailure(ctx, d, evt, started, crawler.AsFetchError(err))
	}
	h.limiter.DecrFailure(origin)

	meta, text, err := h.extractor.Extract(ctx, resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return crawler.Defer(ReasonCanceled)
		}
		h.logger.Warn("extraction failed", zap.Uint64("task_id", task.ID), zap.Error(err))
		evt.Stage, evt.Code = progress.StageDeferred, ReasonExtract
		h.emitter.Emit(evt)
		return crawler.Defer(ReasonExtract)
	}

	if err := h.recorder.RecordSuccess(ctx, task.ID, task.URL, started, crawler.ViaDirect, meta, text); err != nil {
		return h.storeFailure(ctx, evt, "record success failed", err)
	}
	evt.Stage = progress.StageFetchDone
	evt.StatusClass = progress.ClassifyStatus(resp.StatusCode)
	evt.Bytes = int64(len(resp.Body))
	h.emitter.Emit(evt)
	return crawler.Complete("")
}

// fetch performs the GET and applies the content-type and UTF-8 gates.
func (h *DirectHandler) fetch(ctx context.Context, url string) (crawler.FetchResponse, error) {
	resp, err := h.client.Get(ctx, url, directHeaders)
	if err != nil {
		return resp, err
	}
	if !crawler.IsHTMLContentType(resp.ContentType) {
		return resp, crawler.ContentTypeError(resp.ContentType)
	}
	if !utf8.Valid(resp.Body) {
		return resp, crawler.NewFetchError(crawler.KindUTF8, nil)
	}
	return resp, nil
}

func (h *DirectHandler) fetchFailure(
	ctx context.Context,
	d Delivery,
	evt progress.Event,
	started time.Time,
	fe *crawler.FetchError,
) crawler.Result {
	origin := evt.Origin
	code := fe.Code()
	evt.Code = code
	if fe.Retryable() {
		h.limiter.IncrFailure(origin)
	} else {
		h.limiter.DecrFailure(origin)
	}

	if fe.Retryable() && !d.Final {
		h.logger.Debug("retryable fetch failure",
			zap.Uint64("task_id", d.Task.ID),
			zap.String("origin", origin),
			zap.String("code", code),
			zap.Error(fe))
		evt.Stage = progress.StageDeferred
		h.emitter.Emit(evt)
		return crawler.Defer(code)
	}

	if err := h.recorder.RecordPermanentFailure(ctx, d.Task.URL, started, code); err != nil {
		return h.storeFailure(ctx, evt, "record failure failed", err)
	}
	h.logger.Debug("permanent fetch failure",
		zap.Uint64("task_id", d.Task.ID),
		zap.String("code", code),
		zap.Bool("attempts_exhausted", fe.Retryable()))
	evt.Stage = progress.StageFetchError
	h.emitter.Emit(evt)
	return crawler.Fail(code)
}

// storeFailure handles a status or blob store error. A missing status row
// cannot be fixed by redelivery, so the task is dropped.
func (h *DirectHandler) storeFailure(ctx context.Context, evt progress.Event, msg string, err error) crawler.Result {
	return storeFailure(ctx, h.logger, h.emitter, evt, msg, err)
}
