package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/link-crawler/internal/crawler"
	"github.com/JakeFAU/link-crawler/internal/progress"
)

// reasonMissingRow is the result reason when the status row does not exist.
const reasonMissingRow = "missing_row"

func storeFailure(
	ctx context.Context,
	logger *zap.Logger,
	emitter progress.Emitter,
	evt progress.Event,
	msg string,
	err error,
) crawler.Result {
	if ctx.Err() != nil {
		return crawler.Defer(ReasonCanceled)
	}
	if errors.Is(err, crawler.ErrNotFound) {
		logger.Warn(msg+": no status row", zap.Uint64("task_id", evt.TaskID), zap.String("url", evt.URL))
		evt.Stage, evt.Code = progress.StageFetchError, reasonMissingRow
		emitter.Emit(evt)
		return crawler.Fail(reasonMissingRow)
	}
	logger.Warn(msg, zap.Uint64("task_id", evt.TaskID), zap.Error(err))
	evt.Stage, evt.Code = progress.StageDeferred, ReasonStore
	emitter.Emit(evt)
	return crawler.Defer(ReasonStore)
}
