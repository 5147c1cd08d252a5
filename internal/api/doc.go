// Package api hosts the operator HTTP surface. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/quota and POST /v1/quota/{platform}/reset for budget state.
//   - GET /v1/schedules, /v1/schedules/{id}/effectiveness and /v1/suggestions
//     for scheduling insight.
//   - GET and DELETE under /v1/cache for cached payloads.
//   - GET /v1/events for the recent event ring.
package api
