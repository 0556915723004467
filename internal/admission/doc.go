// Package admission enforces the concurrent job limit and hands jobs to the
// orchestrator in FIFO order.
//
// The wait list lives in memory only. Jobs still marked queued when the
// daemon restarts are reset to pending by the job store and are not resumed
// automatically.
package admission
