// Package api hosts the operator HTTP server. Routes:
//   - GET /healthz and /readyz for probes; readiness flips after the first
//     successful cycle.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/status for the most recent cycle summary.
//   - GET /api/cycles and /api/cycles/{cycle_id} for cycle history via the
//     store.CycleRepository interface.
package api
