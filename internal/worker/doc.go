// Package worker launches external pipeline processes and decodes their
// output.
//
// ProcessExecutor runs one command in its own process group, streams stdout
// and stderr line by line to a callback and reports the exit status. A
// cancelled context sends SIGTERM to the group and escalates to SIGKILL
// after the configured grace period. ParseLine turns a stdout line into one
// of the Record variants; anything that is not a JSON object becomes a
// TextRecord.
package worker
