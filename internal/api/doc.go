// Package api hosts the operator HTTP server. Routes:
//   - GET /healthz and /readyz for container probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for loop progress and escalation phase.
//   - GET /v1/leaderboard for the last persisted snapshot.
//   - GET /v1/screenshot for the latest JPEG capture.
package api
