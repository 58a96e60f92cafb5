// Package main hosts the link crawler entrypoint.
//
// Architecture overview:
//   - Queues: two lease-based task queues (Pub/Sub, SQS or in-memory) feed the direct and archive pools. A polled
//     message stays invisible for a randomized 4-6 minute lease and is deleted only when its task completes or
//     fails permanently; deferred tasks are redelivered when the lease lapses.
//   - Direct pool: sized from host memory (16 MiB per worker) unless overridden. Each request is admitted by the
//     per-origin limiter (25 per one-second window, exponential backoff after retryable failures) and fetched with
//     the Colly-based HTTP client.
//   - Archive pool: a small fixed pool looks links up in the Wayback Machine or an archive mirror, whichever backend
//     comes out of backoff first.
//   - Extraction & recording: pages are parsed with goquery on a bounded CPU pool; text and metadata are written to
//     the blob store (Postgres kv, GCS, local or memory) before the status row is updated.
//   - Observability: zap logs, progress events batched into Prometheus collectors, OpenTelemetry spans per task,
//     and an ops server exposing /healthz, /readyz and /metrics.
//
// Quick checklist:
//   - Configure env vars: CRAWLER_QUEUE_PROVIDER plus CRAWLER_QUEUE_DIRECT/ARCHIVE, CRAWLER_STATUS_PROVIDER,
//     CRAWLER_STORAGE_PROVIDER, CRAWLER_DB_DSN when Postgres is used, and USER_AGENT.
//   - Run locally: go run ./cmd/crawler --config config.yaml (or rely solely on env overrides).
//   - The process exits 0 after SIGTERM or once both queues stay empty for crawler.idle_exit_after, and non-zero
//     when a required setting is missing.
package main
