package preflight

import (
	"forge/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes the filesystem and credential checks for the given config.
// apiKey is the effective key after runtime settings are applied.
func RunAll(cfg *config.Config, apiKey string) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Jobs directory", cfg.Paths.JobsDir),
		CheckDirectoryAccess("Baselines directory", cfg.Paths.BaselinesDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}

	// Only domains with a scraper config need the shared cache.
	if len(cfg.Baseline.Domains) > 0 && cfg.Discovery.CacheDir != "" {
		results = append(results, CheckDirectoryAccess("Scraper cache", cfg.Discovery.CacheDir))
	}

	results = append(results, CheckAPIKey(apiKey))
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
