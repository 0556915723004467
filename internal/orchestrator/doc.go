// Package orchestrator drives one job from admission to a terminal state.
//
// Each started job gets a goroutine that walks the stage chain:
//
//  1. pre-scrape the domain baseline when a scraper config is registered
//  2. auto-discover a baseline with the 5-step discovery worker
//  3. preprocess inputs (URLs, PDFs with chapter merge, GitHub repo,
//     content-keyed discovery)
//  4. run the main pipeline, or the resolve worker when resuming a paused job
//
// Stages 1 to 3 are best-effort: failures are logged as warnings and the chain
// continues. Worker output is parsed line by line into job log entries, job
// field updates and broadcast events. The process table holds at most one
// run per job id; Stop cancels the run, which terminates the active worker's
// process group.
//
// SubscribeToUpdates replays a job's state and stored logs to a sink before
// switching it to live events.
package orchestrator
