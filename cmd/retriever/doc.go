// Package main hosts the retriever service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, page retrieval,
//     and transcript endpoints. Requests are validated, normalized into
//     retrieval.Request values, and answered synchronously.
//   - Tier ladder: internal/retrieval.Orchestrator walks the acquisition
//     tiers per call (search disambiguation, direct Colly fetch, managed
//     render API, feed fallback, local Chromedp browser), promoting only on
//     classified failure and never retrying a hard block at the same tier.
//   - Adversarial plumbing: internal/egress mints sticky proxy sessions with
//     a TTL and rotates them when an identity is burned; the Governor keeps
//     reactive per-(domain, session) cooldowns fed by Retry-After hints.
//   - Transcripts: internal/transcript drives video-info calls through two
//     client personas, downloads captions on a separate egress pool, decodes
//     JSON event lists and WebVTT, and can fall back to audio transcription.
//   - Persistence: internal/cache stores results in an embedded SQLite
//     database with positive and negative TTLs; expired reads are misses.
//   - Configuration & plumbing: Viper populates config from env/files; zap
//     provides structured logging; Prometheus metrics are exported on
//     /metrics. The service is stateless across requests apart from the
//     cache file, suitable for container scale-out.
//
// Operational notes:
//   - Concurrency model: each request runs its own tier walk under a
//     wall-clock deadline; the browser tier has its own semaphore and
//     per-domain rate limiters. Shutdown is coordinated via context
//     cancellation from main through the HTTP server.
//   - Run locally: go run ./cmd/retriever serve --config retriever.yaml
//     (or rely solely on RETRIEVER_* env overrides).
package main
