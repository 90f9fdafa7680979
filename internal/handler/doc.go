// Package handler implements the read-only HTTP API and the middleware
// shared by every route of the controller's server.
//
// # Handlers
//
// TopologyHandler serves the current topology snapshot and the recent
// transition history recorded by the master:
//
//   - GET /api/topology returns the snapshot, or 503 before initialization
//   - GET /api/topology/transitions?limit=N returns audit records, newest first
//   - GET /health reports liveness
//
// Errors are returned as JSON with an {error, details} structure.
//
// # Middleware
//
// Recover, Logger, CORS and RequireToken wrap the whole route table.
// RequireToken checks a bearer token against a bcrypt hash and is a no-op
// when no hash is configured.
package handler
