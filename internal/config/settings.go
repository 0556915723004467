package config

import "strconv"

// Runtime setting keys stored in the job store. Values seeded from the config
// file can be changed while the daemon runs.
const (
	SettingMaxConcurrent    = "max_concurrent_jobs"
	SettingAutoCleanupDays  = "auto_cleanup_days"
	SettingPythonPath       = "python_path"
	SettingPipelinePath     = "pipeline_path"
	SettingQualityTier      = "default_quality_tier"
	SettingClaudeAPIKey     = "claude_api_key"
	SettingClaudeModel      = "claude_model"
	SettingClaudeModelLight = "claude_model_light"
	SettingClaudeBaseURL    = "claude_base_url"
	SettingSeekersCacheDir  = "seekers_cache_dir"
)

// SettingDescriptions documents each runtime setting for the settings table.
var SettingDescriptions = map[string]string{
	SettingMaxConcurrent:    "Maximum number of concurrently running jobs",
	SettingAutoCleanupDays:  "Delete finished jobs older than this many days",
	SettingPythonPath:       "Interpreter used to run the pipeline",
	SettingPipelinePath:     "Directory containing the pipeline entry point",
	SettingQualityTier:      "Quality tier applied when a job config omits one",
	SettingClaudeAPIKey:     "API key passed to pipeline and discovery workers",
	SettingClaudeModel:      "Primary model for pipeline workers",
	SettingClaudeModelLight: "Light model for cheap pipeline calls",
	SettingClaudeBaseURL:    "Optional API base URL override",
	SettingSeekersCacheDir:  "Cache directory shared by scraper runs",
}

// SensitiveSettings lists keys whose values are masked in API responses.
var SensitiveSettings = map[string]bool{
	SettingClaudeAPIKey: true,
}

// SettingDefaults returns the seed values for the runtime settings table.
func (c *Config) SettingDefaults() map[string]string {
	return map[string]string{
		SettingMaxConcurrent:    strconv.Itoa(c.Queue.MaxConcurrent),
		SettingAutoCleanupDays:  strconv.Itoa(c.Cleanup.RetentionDays),
		SettingPythonPath:       c.Worker.Python,
		SettingPipelinePath:     c.Worker.PipelineDir,
		SettingQualityTier:      defaultQualityTier,
		SettingClaudeAPIKey:     c.Discovery.APIKey,
		SettingClaudeModel:      c.Discovery.Model,
		SettingClaudeModelLight: c.Discovery.ModelLight,
		SettingClaudeBaseURL:    c.Discovery.BaseURL,
		SettingSeekersCacheDir:  c.Discovery.CacheDir,
	}
}

const redactedValue = "********"

// Redacted returns a copy of the config with credentials replaced so it can
// be printed or logged.
func (c *Config) Redacted() Config {
	out := *c
	for _, secret := range []*string{&out.API.Token, &out.Discovery.APIKey, &out.Notifications.TelegramToken} {
		if *secret != "" {
			*secret = redactedValue
		}
	}
	if len(c.Baseline.Domains) > 0 {
		out.Baseline.Domains = make(map[string]string, len(c.Baseline.Domains))
		for k, v := range c.Baseline.Domains {
			out.Baseline.Domains[k] = v
		}
	}
	return out
}
