package config

const (
	defaultDataDir              = "~/.local/share/forge"
	defaultDatabaseName         = "forge.db"
	defaultAPIBind              = "127.0.0.1:7790"
	defaultPython               = "python3"
	defaultPipelineDir          = "./pipeline"
	defaultScraperCommand       = "skill-seekers"
	defaultStopGraceSeconds     = 5
	defaultScannerMaxLineBytes  = 4 << 20
	defaultMaxConcurrent        = 2
	defaultDiscoveryLanguage    = "en"
	defaultDiscoveryMaxRefs     = 15
	defaultClaudeModel          = "claude-sonnet-4-5-20250929"
	defaultClaudeModelLight     = "claude-haiku-4-5-20251001"
	defaultSeekersCacheDir      = "~/.cache/forge/seekers"
	defaultQualityTier          = "standard"
	defaultCleanupRetentionDays = 30
	defaultCleanupInterval      = 360
	defaultNtfyServer           = "https://ntfy.sh"
	defaultNotifyTimeout        = 10
	defaultNotifyMinInterval    = 2
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 30
)

var defaultBenignStderrPatterns = []string{"DeprecationWarning", "FutureWarning"}

// Default returns a Config populated with repository defaults. The jobs,
// baselines and log directories stay empty so they follow paths.data_dir.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Worker: Worker{
			Python:               defaultPython,
			PipelineDir:          defaultPipelineDir,
			ScraperCommand:       defaultScraperCommand,
			BenignStderrPatterns: append([]string(nil), defaultBenignStderrPatterns...),
			StopGraceSeconds:     defaultStopGraceSeconds,
			ScannerMaxLineBytes:  defaultScannerMaxLineBytes,
		},
		Queue: Queue{
			MaxConcurrent: defaultMaxConcurrent,
		},
		Discovery: Discovery{
			Enabled:    true,
			Language:   defaultDiscoveryLanguage,
			MaxRefs:    defaultDiscoveryMaxRefs,
			Model:      defaultClaudeModel,
			ModelLight: defaultClaudeModelLight,
			CacheDir:   defaultSeekersCacheDir,
		},
		Baseline: Baseline{
			Domains: map[string]string{},
		},
		Cleanup: Cleanup{
			Enabled:         true,
			RetentionDays:   defaultCleanupRetentionDays,
			IntervalMinutes: defaultCleanupInterval,
		},
		Notifications: Notifications{
			NtfyServer:         defaultNtfyServer,
			RequestTimeout:     defaultNotifyTimeout,
			MinIntervalSeconds: defaultNotifyMinInterval,
			Completed:          true,
			Failed:             true,
			Paused:             true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
