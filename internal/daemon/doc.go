// Package daemon hosts the long-running forge process: it owns the single
// instance lock, recovers jobs interrupted by a previous process, runs the
// periodic cleanup loop, and serves the HTTP API.
//
// The API is a chi router over the job store, the admission queue, and the
// orchestrator. Request bodies are checked against embedded JSON schemas
// before decoding, classified errors map onto status codes, and
// GET /api/jobs/{id}/stream relays a job's broadcast events over a
// websocket.
//
// Keep job semantics out of this package: admission decisions live in
// admission, stage sequencing in orchestrator, persistence in jobs.
package daemon
