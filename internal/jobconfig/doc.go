// Package jobconfig reads and rewrites the per-job config.yaml handed to the
// pipeline.
//
// Documents are kept as yaml.v3 node trees so keys the daemon does not know
// about, comments and ordering survive a rewrite.
package jobconfig
