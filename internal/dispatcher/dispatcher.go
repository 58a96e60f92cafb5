// Package dispatcher runs the worker pools for one crawl process.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/pbnjay/memory"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/link-crawler/internal/progress"
)

// Runner is one poll loop.
type Runner interface {
	Run(ctx context.Context) error
}

// Pool describes a fixed set of identical loops over one queue.
type Pool struct {
	Name progress.Pool
	Size int
	// New builds the loop for worker index i.
	New func(i int) Runner
}

// Gauges tracks pool sizes; metrics.Collectors satisfies it.
type Gauges interface {
	SetWorkers(pool string, n int)
	IncActiveWorkers(pool string)
	DecActiveWorkers(pool string)
}

// Dispatcher fans pools out across goroutines.
type Dispatcher struct {
	pools   []Pool
	emitter progress.Emitter
	gauges  Gauges
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a Dispatcher. emitter and gauges may be nil.
func New(pools []Pool, emitter progress.Emitter, gauges Gauges, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		pools:   pools,
		emitter: emitter,
		gauges:  gauges,
		logger:  logger,
		now:     time.Now,
	}
}

// Run starts every loop and blocks until all of them return. Loops stop on
// ctx cancellation or once their queue drains. The first loop error is
// returned after the rest have stopped.
func (d *Dispatcher) Run(ctx context.Context) error {
	started := d.now()
	d.emit(progress.Event{Stage: progress.StageRunStart})
	defer func() {
		d.emit(progress.Event{Stage: progress.StageRunDone, Dur: d.now().Sub(started)})
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, pool := range d.pools {
		if pool.Size <= 0 {
			d.logger.Info("pool disabled", zap.String("pool", string(pool.Name)))
			continue
		}
		if d.gauges != nil {
			d.gauges.SetWorkers(string(pool.Name), pool.Size)
		}
		d.logger.Info("starting pool", zap.String("pool", string(pool.Name)), zap.Int("workers", pool.Size))
		for i := range pool.Size {
			loop := pool.New(i)
			g.Go(func() error {
				if d.gauges != nil {
					d.gauges.IncActiveWorkers(string(pool.Name))
					defer d.gauges.DecActiveWorkers(string(pool.Name))
				}
				if err := loop.Run(gctx); err != nil {
					return fmt.Errorf("%s worker %d: %w", pool.Name, i, err)
				}
				return nil
			})
		}
	}
	err := g.Wait()
	d.logger.Info("all pools stopped", zap.Error(err))
	return err
}

func (d *Dispatcher) emit(evt progress.Event) {
	if d.emitter != nil {
		d.emitter.Emit(evt)
	}
}

// DirectPoolSize returns override when positive, otherwise total host memory
// divided by perWorker, and never less than one.
func DirectPoolSize(override int, perWorker int64) int {
	return directPoolSize(override, perWorker, memory.TotalMemory())
}

func directPoolSize(override int, perWorker int64, total uint64) int {
	if override > 0 {
		return override
	}
	if perWorker <= 0 || total == 0 {
		return 1
	}
	return max(1, int(total/uint64(perWorker)))
}
