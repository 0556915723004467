// Package notifications delivers job lifecycle events via pluggable notifiers.
//
// ntfy and Telegram backends are built from the [notifications] config
// section; with neither configured the service degrades to a no-op. Events
// can be toggled individually and deliveries are throttled with a token
// bucket so a burst of finishing jobs does not trip provider rate limits.
//
// Orchestration code depends only on the Service interface.
package notifications
