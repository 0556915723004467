// Package jobs persists build jobs, their append-only logs, runtime settings,
// job templates, and the baseline registry in SQLite.
//
// Store is the single durable record of job state. The admission queue and
// orchestrator mutate jobs through Update with a Patch so concurrent writers
// only touch the columns they own. Busy database errors are retried with a
// short backoff. Schema changes append an upgrade step; databases from a
// newer release are refused.
package jobs
