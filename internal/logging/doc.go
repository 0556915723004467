// Package logging assembles structured slog loggers and formatting helpers used
// across forge services.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so orchestration code can tag log
// lines with job IDs, stages, and correlation IDs. The stream hub keeps a
// bounded window of recent daemon log events for the API, with an on-disk
// archive for history.
package logging
