// Package api serves the crawler's operational HTTP endpoints: liveness,
// readiness of the configured backends, and the Prometheus scrape target.
//
// The crawler takes its work from queues, so there is no job API; this
// server only exists for orchestration probes and monitoring.
package api
