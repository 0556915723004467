// Package services defines shared error markers and context helpers consumed by
// the orchestrator, admission queue, and API layer.
//
// Key responsibilities:
//   - Structured error markers plus the Wrap helper, built on
//     github.com/cockroachdb/errors, so callers can classify failures
//     (spawn vs worker failure vs degraded step) and surface operator hints.
//   - Context helpers that stamp job IDs, stage names, and correlation
//     identifiers for logging.
package services
