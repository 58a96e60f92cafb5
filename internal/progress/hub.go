package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config tunes the Hub. Zero values take the defaults below.
type Config struct {
	// BufferSize is how many events Emit can queue before it starts dropping.
	BufferSize int
	// MaxBatchEvents flushes a batch as soon as it reaches this size.
	MaxBatchEvents int
	// MaxBatchWait flushes a non-empty batch this long after its first event.
	MaxBatchWait time.Duration
	// SinkTimeout bounds each sink's Consume call.
	SinkTimeout time.Duration
	Logger      *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 1000
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

// Hub batches crawl events from every worker and hands each batch to the
// sinks from a single goroutine. Workers never wait on a sink: when the
// buffer is full the event is counted as dropped.
type Hub struct {
	cfg     Config
	sinks   []Sink
	events  chan Event
	stopCh  chan struct{}
	doneCh  chan struct{}
	logger  *zap.Logger
	dropLog *rate.Sometimes
	dropped atomic.Int64
	closed  atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts a Hub feeding sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	h := &Hub{
		cfg:     cfg,
		sinks:   append([]Sink(nil), sinks...),
		events:  make(chan Event, cfg.BufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		logger:  cfg.Logger,
		dropLog: &rate.Sometimes{Interval: dropLogInterval},
	}
	go h.run()
	return h
}

// Emit queues evt without blocking. Invalid events and events sent after
// Close are discarded.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.String("stage", string(evt.Stage)), zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.dropped.Add(1)
		if h.dropLog != nil {
			h.dropLog.Do(func() {
				h.logger.Warn("progress buffer full, events dropped", zap.Int64("dropped", h.dropped.Swap(0)))
			})
		}
	}
}

// Close stops accepting events, flushes what is queued, closes the sinks and
// waits for all of that to finish or ctx to expire. Repeated calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

// pending is the batch being assembled and the deadline that flushes it.
type pending struct {
	events []Event
	timer  *time.Timer
}

// due fires when the batch has waited long enough; nil while the batch is empty.
func (p *pending) due() <-chan time.Time {
	if p.timer == nil {
		return nil
	}
	return p.timer.C
}

func (p *pending) add(evt Event, wait time.Duration) {
	if len(p.events) == 0 {
		p.timer = time.NewTimer(wait)
	}
	p.events = append(p.events, evt)
}

// take hands back the batch and clears the deadline.
func (p *pending) take() []Event {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	batch := p.events
	p.events = nil
	return batch
}

func (h *Hub) run() {
	defer close(h.doneCh)
	var p pending
	for {
		select {
		case evt := <-h.events:
			p.add(evt, h.cfg.MaxBatchWait)
			if len(p.events) >= h.cfg.MaxBatchEvents {
				h.deliver(p.take())
			}
		case <-p.due():
			h.deliver(p.take())
		case <-h.stopCh:
			h.drain(&p)
			h.closeSinks()
			return
		}
	}
}

// drain flushes everything Emit queued before Close.
func (h *Hub) drain(p *pending) {
	for {
		select {
		case evt := <-h.events:
			p.add(evt, h.cfg.MaxBatchWait)
			if len(p.events) >= h.cfg.MaxBatchEvents {
				h.deliver(p.take())
			}
		default:
			h.deliver(p.take())
			return
		}
	}
}

func (h *Hub) deliver(batch []Event) {
	if len(batch) == 0 {
		return
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, batch); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
