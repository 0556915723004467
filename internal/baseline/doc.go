// Package baseline locates and prepares per-domain reference corpora.
//
// A baseline directory is ready once the scraper has written SKILL.md into
// it. Discovery workers instead leave a baseline_summary.json. Scraper
// configs are JSON files registered per domain in the [baseline.domains]
// config table; a scrape run gets a temporary copy with output_dir pointed at
// the job's target directory.
package baseline
