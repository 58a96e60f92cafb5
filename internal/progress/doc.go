// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces that the crawl workers use to report per-task outcomes. Events are
// batched on a background goroutine and fanned out to sinks such as Prometheus
// metrics or the structured log.
package progress
