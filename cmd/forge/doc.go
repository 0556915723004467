// Package main hosts the forge CLI entrypoint and command graph.
//
// Commands translate terminal invocations into calls against the daemon's
// HTTP API: submitting builds and uploads, inspecting and stopping jobs,
// resolving conflicts, tailing job and daemon logs, and editing runtime
// settings. Daemon lifecycle commands launch or signal the daemon process
// directly, and `forge daemon run` hosts the daemon in the foreground.
//
// Keep this package lean: new behavior belongs in the internal packages and
// is surfaced here through dedicated commands or flags.
package main
