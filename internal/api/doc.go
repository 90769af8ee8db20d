// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /status for the scheduler state and the live cycle snapshot.
//   - GET /api/ledger/stats and /api/ledger/duplicates for application
//     history reporting via the LedgerReporter interface.
package api
