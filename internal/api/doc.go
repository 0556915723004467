// Package api defines wire-format types and converters for the daemon HTTP
// API. It translates store records into transport DTOs so the CLI and other
// consumers can render jobs without coupling to internal types.
//
// # Key Types
//
// Job: transport representation of a build job with phase, metrics and
// queue position.
//
// DaemonStatus: running state, process table with resource samples, wait
// list, dependency and preflight results.
//
// StreamMessage: one websocket frame carrying a broadcast event name and its
// JSON payload.
//
// # Design Notes
//
// DTOs use snake_case JSON tags to match the event payloads workers and the
// broadcaster already emit. Timestamps use RFC3339 with milliseconds. Review
// data and log metadata pass through as json.RawMessage to avoid
// double-encoding. Sensitive settings are masked on the way out.
package api
