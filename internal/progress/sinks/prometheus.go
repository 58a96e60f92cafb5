package sinks

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/link-crawler/internal/progress"
)

// PrometheusSink exports crawler progress metrics via Prometheus. It owns all
// collectors for runs, task outcomes, fetches and archive lookups.
type PrometheusSink struct {
	runsStarted prometheus.Counter
	runsRunning prometheus.Gauge
	runRuntime  prometheus.Histogram

	tasks         *prometheus.CounterVec
	deferrals     *prometheus.CounterVec
	fetchErrors   *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec

	archiveLookups  *prometheus.CounterVec
	archiveDuration *prometheus.HistogramVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_runs_started_total",
			Help: "Total crawler process runs that have started.",
		}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_runs_running",
			Help: "Current number of running crawler runs.",
		}),
		runRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crawler_run_runtime_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 21600, 86400},
		}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_tasks_total",
			Help: "Task attempts partitioned by pool and outcome.",
		}, []string{"pool", "outcome"}),
		deferrals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_deferrals_total",
			Help: "Deferred task attempts partitioned by pool and reason.",
		}, []string{"pool", "reason"}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_fetch_errors_total",
			Help: "Permanent fetch failures partitioned by pool and error class.",
		}, []string{"pool", "code"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_fetch_bytes_total",
			Help: "Bytes downloaded per pool.",
		}, []string{"pool"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_fetch_duration_seconds",
			Help:    "Fetch duration partitioned by pool and result.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"pool", "result"}),
		archiveLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_archive_lookups_total",
			Help: "Archive lookups partitioned by backend and whether a snapshot was found.",
		}, []string{"via", "found"}),
		archiveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_archive_lookup_duration_seconds",
			Help:    "Archive lookup duration per backend.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"via"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsRunning,
		s.runRuntime,
		s.tasks,
		s.deferrals,
		s.fetchErrors,
		s.fetchBytes,
		s.fetchDuration,
		s.archiveLookups,
		s.archiveDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	pool := string(evt.Pool)
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageRunDone:
		if evt.Dur > 0 {
			s.runRuntime.Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.RunID) {
			s.runsRunning.Dec()
		}
	case progress.StageSkip:
		s.tasks.WithLabelValues(pool, "skip").Inc()
	case progress.StagePoison:
		s.tasks.WithLabelValues(pool, "poison").Inc()
	case progress.StageDeferred:
		s.tasks.WithLabelValues(pool, "deferred").Inc()
		s.deferrals.WithLabelValues(pool, codeClass(evt.Code)).Inc()
		s.observeFetch(pool, "retry", evt)
	case progress.StageFetchError:
		s.tasks.WithLabelValues(pool, "failed").Inc()
		s.fetchErrors.WithLabelValues(pool, codeClass(evt.Code)).Inc()
		s.observeFetch(pool, "error", evt)
	case progress.StageFetchDone:
		s.tasks.WithLabelValues(pool, "completed").Inc()
		statusClass := string(evt.StatusClass)
		if statusClass == "" {
			statusClass = string(progress.StatusOther)
		}
		s.observeFetch(pool, statusClass, evt)
		if evt.Bytes > 0 {
			s.fetchBytes.WithLabelValues(pool).Add(float64(evt.Bytes))
		}
	case progress.StageArchive:
		s.archiveLookups.WithLabelValues(evt.Via, fmt.Sprint(evt.Found)).Inc()
		if evt.Dur > 0 {
			s.archiveDuration.WithLabelValues(evt.Via).Observe(evt.Dur.Seconds())
		}
	}
}

func (s *PrometheusSink) observeFetch(pool, result string, evt progress.Event) {
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(pool, result).Observe(evt.Dur.Seconds())
	}
}

// codeClass drops the open-ended suffix of status:<code> and
// content_type:<value> so label cardinality stays bounded.
func codeClass(code string) string {
	if code == "" {
		return "unknown"
	}
	if i := strings.IndexByte(code, ':'); i >= 0 {
		if code[:i] == "status" {
			return code
		}
		return code[:i]
	}
	return code
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
