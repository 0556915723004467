// Package preprocess holds the pure helpers behind the optional stages that
// run before the main pipeline: step identifiers and labels, per-step time
// budgets, discovery progress parsing, chapter merging and removal of partial
// output left by a step that timed out.
package preprocess
