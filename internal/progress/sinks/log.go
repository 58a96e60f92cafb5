package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/link-crawler/internal/progress"
)

// LogSink emits structured logs for debugging progress streams.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("stage", string(evt.Stage)),
			zap.String("pool", string(evt.Pool)),
			zap.Uint64("task_id", evt.TaskID),
			zap.String("origin", evt.Origin),
			zap.String("url", evt.URL),
			zap.Int64("bytes", evt.Bytes),
			zap.String("status_class", string(evt.StatusClass)),
			zap.Duration("dur", evt.Dur),
		}
		if evt.Code != "" {
			fields = append(fields, zap.String("code", evt.Code))
		}
		if evt.Via != "" {
			fields = append(fields, zap.String("via", evt.Via), zap.Bool("found", evt.Found))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
