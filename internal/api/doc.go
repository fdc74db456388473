// Package api hosts the HTTP server, middleware, and handlers of the capture
// worker. Notable routes:
//   - GET /version, /healthz, /readyz, and /metrics without authorization.
//   - POST /capture/create and /capture/confirm behind the bearer gate.
//   - GET /capture/progress/{ticket} and /capture/output/{ticket} behind the
//     bearer gate. Output streams the raw payload.
package api
