package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-crawler/internal/crawler"
	"github.com/JakeFAU/link-crawler/internal/progress"
	"github.com/JakeFAU/link-crawler/internal/queue"
)

const tracerName = "github.com/JakeFAU/link-crawler/internal/worker"

// LoopConfig controls polling and lease behavior.
type LoopConfig struct {
	Pool progress.Pool
	// Visibility of a polled message is drawn uniformly from [VisibilityMin, VisibilityMax).
	VisibilityMin time.Duration
	VisibilityMax time.Duration
	// IdleDelay is slept after an empty poll.
	IdleDelay time.Duration
	// IdleExitAfter stops the loop once the queue has been empty this long. Zero never stops.
	IdleExitAfter time.Duration
	// MaxAttempts marks deliveries at or past this count as final. Zero is unlimited.
	MaxAttempts int
}

func (c LoopConfig) withDefaults() LoopConfig {
	if c.VisibilityMin <= 0 {
		c.VisibilityMin = 4 * time.Minute
	}
	if c.VisibilityMax < c.VisibilityMin {
		c.VisibilityMax = c.VisibilityMin
	}
	if c.IdleDelay <= 0 {
		c.IdleDelay = 3 * time.Second
	}
	return c
}

type nopEmitter struct{}

func (nopEmitter) Emit(progress.Event) {}

// Loop polls one queue and dispatches each message to a Handler.
type Loop struct {
	cfg     LoopConfig
	queue   crawler.Queue
	handler Handler
	clock   Sleeper
	emitter progress.Emitter
	logger  *zap.Logger
	tracer  trace.Tracer
	jitter  func(n int64) int64
}

// NewLoop constructs a Loop. A nil emitter discards progress events.
func NewLoop(
	cfg LoopConfig,
	q crawler.Queue,
	handler Handler,
	clock Sleeper,
	emitter progress.Emitter,
	logger *zap.Logger,
) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = nopEmitter{}
	}
	return &Loop{
		cfg:     cfg.withDefaults(),
		queue:   q,
		handler: handler,
		clock:   clock,
		emitter: emitter,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
		jitter:  rand.N[int64],
	}
}

// Run polls until ctx is done or the queue stays empty for IdleExitAfter.
// Per-message failures are logged and never end the loop.
func (l *Loop) Run(ctx context.Context) error {
	var idleSince time.Time
	for {
		if ctx.Err() != nil {
			return nil
		}
		processed, err := l.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.logger.Warn("queue poll failed", zap.Error(err))
		}
		if processed {
			idleSince = time.Time{}
			continue
		}

		now := l.clock.Now()
		if idleSince.IsZero() {
			idleSince = now
		}
		if l.cfg.IdleExitAfter > 0 && now.Sub(idleSince) >= l.cfg.IdleExitAfter {
			l.logger.Info("queue drained, stopping loop", zap.Duration("idle", now.Sub(idleSince)))
			return nil
		}
		if err := l.clock.Sleep(ctx, l.cfg.IdleDelay); err != nil {
			return nil
		}
	}
}

// RunOnce polls a single message and processes it. It reports whether a
// message was received.
func (l *Loop) RunOnce(ctx context.Context) (bool, error) {
	msgs, err := l.queue.Poll(ctx, 1, l.visibility())
	if err != nil {
		return false, fmt.Errorf("poll: %w", err)
	}
	if len(msgs) == 0 {
		return false, nil
	}
	for _, msg := range msgs {
		l.process(ctx, msg)
	}
	return true, nil
}

func (l *Loop) visibility() time.Duration {
	span := int64(l.cfg.VisibilityMax - l.cfg.VisibilityMin)
	if span <= 0 {
		return l.cfg.VisibilityMin
	}
	return l.cfg.VisibilityMin + time.Duration(l.jitter(span))
}

func (l *Loop) process(ctx context.Context, msg crawler.Message) {
	task, err := crawler.DecodeTask(msg.Body)
	if err != nil {
		l.logger.Warn("dropping undecodable task", zap.String("handle", msg.Handle), zap.Error(err))
		l.emitter.Emit(progress.Event{Stage: progress.StagePoison, Pool: l.cfg.Pool})
		l.delete(ctx, msg)
		return
	}

	ctx = otel.GetTextMapPropagator().Extract(ctx, queue.Carrier(msg.Attributes))
	ctx, span := l.tracer.Start(ctx, string(l.cfg.Pool)+".task", trace.WithAttributes(
		attribute.Int64("task.id", int64(task.ID)),
		attribute.String("task.origin", task.Origin()),
		attribute.Int("task.attempt", msg.Attempt),
	))
	defer span.End()

	d := Delivery{
		Task:    task,
		Attempt: msg.Attempt,
		Final:   l.cfg.MaxAttempts > 0 && msg.Attempt >= l.cfg.MaxAttempts,
		extend: func(ctx context.Context, visibility time.Duration) error {
			return l.queue.ExtendVisibility(ctx, msg, visibility)
		},
	}
	res := l.handler.Handle(ctx, d)
	span.SetAttributes(
		attribute.String("task.outcome", res.Outcome.String()),
		attribute.String("task.reason", res.Reason),
	)

	switch res.Outcome {
	case crawler.Completed, crawler.Failed:
		if res.Outcome == crawler.Failed {
			span.SetStatus(codes.Error, res.Reason)
		}
		l.delete(ctx, msg)
	case crawler.Deferred:
		// The lease lapses and the queue redelivers.
	}
	l.logger.Debug("task handled",
		zap.Uint64("task_id", task.ID),
		zap.String("outcome", res.Outcome.String()),
		zap.String("reason", res.Reason))
}

func (l *Loop) delete(ctx context.Context, msg crawler.Message) {
	if err := l.queue.Delete(ctx, msg); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		l.logger.Warn("queue delete failed", zap.String("handle", msg.Handle), zap.Error(err))
	}
}
