// Package metrics exposes Prometheus collectors for the ops HTTP server and the worker pools.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors groups the process-level collectors. Crawl outcome metrics live in
// the progress sinks.
type Collectors struct {
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	workers                    *prometheus.GaugeVec
	activeWorkers              *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. Collectors already
// registered on reg are reused.
func New(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of ops HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		),
		httpRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of ops HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "route"},
		),
		workers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crawler_workers",
				Help: "Configured workers per pool.",
			},
			[]string{"pool"},
		),
		activeWorkers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Workers currently running a poll loop, per pool.",
			},
			[]string{"pool"},
		),
	}
	if reg == nil {
		return c, nil
	}
	var err error
	if c.httpRequestsTotal, err = register(reg, c.httpRequestsTotal); err != nil {
		return nil, err
	}
	if c.httpRequestDurationSeconds, err = register(reg, c.httpRequestDurationSeconds); err != nil {
		return nil, err
	}
	if c.workers, err = register(reg, c.workers); err != nil {
		return nil, err
	}
	if c.activeWorkers, err = register(reg, c.activeWorkers); err != nil {
		return nil, err
	}
	return c, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register collector: %w", err)
	}
	return c, nil
}

// ObserveHTTPRequest records one ops request.
func (c *Collectors) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	c.httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SetWorkers records the configured size of a pool.
func (c *Collectors) SetWorkers(pool string, n int) {
	c.workers.WithLabelValues(pool).Set(float64(n))
}

// IncActiveWorkers marks one more running loop in pool.
func (c *Collectors) IncActiveWorkers(pool string) {
	c.activeWorkers.WithLabelValues(pool).Inc()
}

// DecActiveWorkers marks one loop in pool as stopped.
func (c *Collectors) DecActiveWorkers(pool string) {
	c.activeWorkers.WithLabelValues(pool).Dec()
}

// Middleware is a chi middleware that records request metrics.
func (c *Collectors) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			routePattern = rctx.RoutePattern()
		}
		if routePattern == "" {
			routePattern = "unknown"
		}
		c.ObserveHTTPRequest(r.Method, routePattern, ww.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
