// Package app builds the long-lived services for one crawl process and owns
// their shutdown. It is the only place that knows which backend each
// configured provider maps to.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/link-crawler/internal/api"
	"github.com/JakeFAU/link-crawler/internal/archive"
	"github.com/JakeFAU/link-crawler/internal/clock/system"
	"github.com/JakeFAU/link-crawler/internal/config"
	"github.com/JakeFAU/link-crawler/internal/crawler"
	"github.com/JakeFAU/link-crawler/internal/dispatcher"
	"github.com/JakeFAU/link-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/link-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/link-crawler/internal/metrics"
	"github.com/JakeFAU/link-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/link-crawler/internal/progress"
	"github.com/JakeFAU/link-crawler/internal/progress/sinks"
	memqueue "github.com/JakeFAU/link-crawler/internal/queue/memory"
	pubsubqueue "github.com/JakeFAU/link-crawler/internal/queue/pubsub"
	sqsqueue "github.com/JakeFAU/link-crawler/internal/queue/sqs"
	"github.com/JakeFAU/link-crawler/internal/recorder"
	"github.com/JakeFAU/link-crawler/internal/storage"
	"github.com/JakeFAU/link-crawler/internal/telemetry"
	"github.com/JakeFAU/link-crawler/internal/worker"
)

// App holds the shared services of a crawl process.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	runID  uuid.UUID

	stores       *storage.Stores
	directQueue  crawler.Queue
	archiveQueue crawler.Queue
	registry     *prometheus.Registry
	hub          *progress.Hub
	tracer       *sdktrace.TracerProvider
	dispatcher   *dispatcher.Dispatcher
	ops          *api.Server

	closers []func(context.Context) error
}

// Logger returns the process logger, tagged with the run ID.
func (a *App) Logger() *zap.Logger { return a.logger }

// RunID identifies this process in logs and progress events.
func (a *App) RunID() uuid.UUID { return a.runID }

// Stores exposes the opened status and blob stores.
func (a *App) Stores() *storage.Stores { return a.stores }

// DirectQueue returns the queue feeding the direct pool.
func (a *App) DirectQueue() crawler.Queue { return a.directQueue }

// ArchiveQueue returns the queue feeding the archive pool, nil when the pool is disabled.
func (a *App) ArchiveQueue() crawler.Queue { return a.archiveQueue }

// Registry returns the Prometheus registry served on /metrics.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// NewApp connects every backend selected in cfg and assembles the worker
// pools. It fails fast; anything opened before the failure is released.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, runID: uuid.New()}
	a.logger = logger.With(zap.String("run_id", a.runID.String()))
	defer func() {
		if err != nil {
			a.Close(context.Background()) //nolint:errcheck // startup already failed
		}
	}()

	a.logger.Info("initializing crawler services",
		zap.String("queue", cfg.Queue.Provider),
		zap.String("status", cfg.Status.Provider),
		zap.String("storage", cfg.Storage.Provider))

	tp, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry.ServiceName)
	if err != nil {
		return nil, err
	}
	a.tracer = tp
	a.closers = append(a.closers, tp.Shutdown)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	gauges, err := metrics.New(a.registry)
	if err != nil {
		return nil, err
	}
	if err := a.openProgress(); err != nil {
		return nil, err
	}

	stores, err := storage.Open(ctx, cfg, a.logger.Named("storage"))
	if err != nil {
		return nil, err
	}
	a.stores = stores
	a.closers = append(a.closers, func(context.Context) error { stores.Close(); return nil })

	if err := a.openQueues(ctx); err != nil {
		return nil, err
	}

	emitter := progress.NewRunEmitter(a.hub, a.runID)
	a.dispatcher = dispatcher.New(a.pools(emitter), emitter, gauges, a.logger.Named("dispatcher"))

	if cfg.Server.Enabled {
		checks := make(map[string]api.Check, len(stores.Checks))
		for name, check := range stores.Checks {
			checks[name] = api.Check(check)
		}
		a.ops = api.NewServer(a.registry, gauges, checks, a.logger.Named("api"))
	}

	a.logger.Info("crawler services initialized")
	return a, nil
}

func (a *App) openProgress() error {
	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		return err
	}
	hubSinks := []progress.Sink{promSink}
	if a.cfg.Progress.LogEvents {
		hubSinks = append(hubSinks, sinks.NewLogSink(a.logger.Named("progress")))
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   a.cfg.Progress.MaxBatchWait,
		SinkTimeout:    a.cfg.Progress.SinkTimeout,
		Logger:         a.logger.Named("progress"),
	}, hubSinks...)
	a.closers = append(a.closers, a.hub.Close)
	return nil
}

func (a *App) openQueues(ctx context.Context) error {
	q := a.cfg.Queue
	archiveName := ""
	if a.cfg.Archive.Enabled {
		archiveName = q.Archive
	}

	var open func(name string) (crawler.Queue, error)
	switch q.Provider {
	case config.ProviderMemory:
		open = func(string) (crawler.Queue, error) { return memqueue.NewQueue(system.New()), nil }
	case config.ProviderPubSub:
		client, err := pubsubqueue.NewClient(ctx, q.PubSub.Endpoint)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		open = func(name string) (crawler.Queue, error) { return pubsubqueue.New(client, q.PubSub.ProjectID, name) }
	case config.ProviderSQS:
		client, err := sqsqueue.NewClient(ctx, q.SQS.Region, q.SQS.Endpoint)
		if err != nil {
			return err
		}
		open = func(name string) (crawler.Queue, error) { return sqsqueue.New(client, name, q.SQS.WaitSeconds) }
	default:
		return fmt.Errorf("unknown queue.provider %q", q.Provider)
	}

	direct, err := open(q.Direct)
	if err != nil {
		return fmt.Errorf("open direct queue: %w", err)
	}
	a.directQueue = direct
	if archiveName != "" {
		archiveQ, err := open(archiveName)
		if err != nil {
			return fmt.Errorf("open archive queue: %w", err)
		}
		a.archiveQueue = archiveQ
	}
	return nil
}

func (a *App) pools(emitter progress.Emitter) []dispatcher.Pool {
	cfg := a.cfg
	clock := system.New()
	client := collyfetcher.New(collyfetcher.Config{
		UserAgent:      cfg.Crawler.UserAgent,
		ConnectTimeout: cfg.HTTP.ConnectTimeout,
		Timeout:        cfg.HTTP.Timeout,
		MaxRedirects:   cfg.HTTP.MaxRedirects,
		MaxBodySize:    cfg.HTTP.MaxBodyBytes,
	})
	extractor := extract.NewPool(cfg.Crawler.ExtractWorkers)
	rec := recorder.New(a.stores.Status, a.stores.Blobs, a.logger.Named("recorder"))

	loopCfg := func(pool progress.Pool) worker.LoopConfig {
		return worker.LoopConfig{
			Pool:          pool,
			VisibilityMin: cfg.Crawler.VisibilityMin,
			VisibilityMax: cfg.Crawler.VisibilityMax,
			IdleDelay:     cfg.Crawler.IdleDelay,
			IdleExitAfter: cfg.Crawler.IdleExitAfter,
			MaxAttempts:   cfg.Crawler.MaxAttempts,
		}
	}

	limiter := ratelimit.New(ratelimit.Config{
		Window:       cfg.RateLimit.Window,
		MaxPerWindow: cfg.RateLimit.MaxPerWindow,
		MaxStreak:    cfg.RateLimit.MaxStreak,
		Cooldown:     cfg.RateLimit.Cooldown,
	}, clock)
	directLogger := a.logger.Named("direct")
	direct := worker.NewDirectHandler(limiter, client, extractor, rec, clock, emitter, directLogger)
	pools := []dispatcher.Pool{{
		Name: progress.PoolDirect,
		Size: dispatcher.DirectPoolSize(cfg.Crawler.DirectWorkers, cfg.Crawler.MemoryPerWorker),
		New: func(i int) dispatcher.Runner {
			return worker.NewLoop(loopCfg(progress.PoolDirect), a.directQueue, direct, clock, emitter,
				directLogger.With(zap.Int("worker", i)))
		},
	}}

	if a.archiveQueue == nil {
		return pools
	}
	backends := []archive.Backend{archive.NewWayback(client, cfg.Archive.WaybackEndpoint)}
	if cfg.Archive.MirrorEnabled {
		backends = append(backends, archive.NewMirror(client, cfg.Archive.MirrorEndpoint))
	}
	archiveLogger := a.logger.Named("archive")
	router := archive.NewRouter(archive.Config{
		MaxWait: cfg.Archive.MaxWait,
		Backoff: ratelimit.BackoffConfig{MaxStreak: cfg.RateLimit.MaxStreak},
	}, clock, archiveLogger, backends...)
	handler := worker.NewArchiveHandler(router, cfg.Crawler.VisibilityMax, extractor, rec, clock, emitter, archiveLogger)
	return append(pools, dispatcher.Pool{
		Name: progress.PoolArchive,
		Size: cfg.Crawler.ArchiveWorkers,
		New: func(i int) dispatcher.Runner {
			return worker.NewLoop(loopCfg(progress.PoolArchive), a.archiveQueue, handler, clock, emitter,
				archiveLogger.With(zap.Int("worker", i)))
		},
	})
}

// Run serves the ops endpoints, if enabled, and runs the worker pools until
// ctx is done or every queue drains.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	opsCtx, stopOps := context.WithCancel(gctx)
	defer stopOps()
	if a.ops != nil {
		addr := fmt.Sprintf(":%d", a.cfg.Server.Port)
		g.Go(func() error { return a.ops.ListenAndServe(opsCtx, addr) })
	}
	g.Go(func() error {
		defer stopOps()
		return a.dispatcher.Run(gctx)
	})
	return g.Wait()
}

// Close flushes progress, stops tracing and releases connections, in reverse
// order of creation.
func (a *App) Close(ctx context.Context) error {
	a.logger.Info("shutting down crawler services")
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown incomplete", zap.Error(err))
		return err
	}
	return nil
}
