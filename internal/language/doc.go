// Package language normalizes the content language passed to discovery
// and baseline scraping workers.
package language
