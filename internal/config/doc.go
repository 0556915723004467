// Package config loads, normalizes, and validates forge configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// CLAUDE_API_KEY. The Config type centralizes every knob the daemon and CLI
// need: data directories, worker invocation, admission limits, discovery
// credentials, notifications, and logging.
//
// Runtime-tunable values (the concurrency limit, worker paths, credentials)
// are also seeded into the job store's settings table; see SettingDefaults.
package config
