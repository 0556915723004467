// Package broadcast fans job progress events out to live subscribers.
//
// The Hub keeps a registry keyed by job id. Delivery is synchronous and in
// publish order; a subscriber that returns an error is dropped without
// affecting the others. Event names and payload shapes shared by the
// orchestrator, the API stream endpoint and the CLI live in events.go.
package broadcast
