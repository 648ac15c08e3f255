// Package api hosts the read-only status server used in watch mode. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/jobs and /api/jobs/{name} for the latest per-job snapshots
//     held by a store.SnapshotRepository.
package api
