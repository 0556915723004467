// Package preflight provides readiness checks for the filesystem paths and
// worker toolchain that forge depends on.
//
// These checks run in two contexts:
//   - The daemon logs a snapshot at startup so a missing interpreter or
//     unwritable data directory shows up before the first job fails.
//   - GET /api/status and "forge status" report them alongside running jobs.
//
// Checks never fail the daemon; they only report.
package preflight
