package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"forge/internal/language"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeAPI(); err != nil {
		return err
	}
	if err := c.normalizeWorker(); err != nil {
		return err
	}
	if err := c.normalizeDiscovery(); err != nil {
		return err
	}
	if err := c.normalizeBaseline(); err != nil {
		return err
	}
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.JobsDir) == "" {
		c.Paths.JobsDir = filepath.Join(c.Paths.DataDir, "jobs")
	}
	if c.Paths.JobsDir, err = expandPath(c.Paths.JobsDir); err != nil {
		return fmt.Errorf("paths.jobs_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.BaselinesDir) == "" {
		c.Paths.BaselinesDir = filepath.Join(c.Paths.DataDir, "baselines")
	}
	if c.Paths.BaselinesDir, err = expandPath(c.Paths.BaselinesDir); err != nil {
		return fmt.Errorf("paths.baselines_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.DataDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.DatabasePath) == "" {
		c.Paths.DatabasePath = filepath.Join(c.Paths.DataDir, defaultDatabaseName)
	}
	if c.Paths.DatabasePath, err = expandPath(c.Paths.DatabasePath); err != nil {
		return fmt.Errorf("paths.database_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() error {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
	if c.API.Token == "" {
		if value, ok := os.LookupEnv("FORGE_API_TOKEN"); ok {
			c.API.Token = strings.TrimSpace(value)
		}
	}
	roots := make([]string, 0, len(c.API.InputRoots))
	for _, root := range c.API.InputRoots {
		if strings.TrimSpace(root) == "" {
			continue
		}
		expanded, err := expandPath(strings.TrimSpace(root))
		if err != nil {
			return fmt.Errorf("api.input_roots: %w", err)
		}
		roots = append(roots, expanded)
	}
	c.API.InputRoots = roots
	return nil
}

func (c *Config) normalizeWorker() error {
	c.Worker.Python = strings.TrimSpace(c.Worker.Python)
	if c.Worker.Python == "" {
		c.Worker.Python = defaultPython
	}
	if strings.TrimSpace(c.Worker.PipelineDir) == "" {
		c.Worker.PipelineDir = defaultPipelineDir
	}
	var err error
	if c.Worker.PipelineDir, err = expandPath(c.Worker.PipelineDir); err != nil {
		return fmt.Errorf("worker.pipeline_dir: %w", err)
	}
	c.Worker.ScraperCommand = strings.TrimSpace(c.Worker.ScraperCommand)
	if c.Worker.ScraperCommand == "" {
		c.Worker.ScraperCommand = defaultScraperCommand
	}
	patterns := c.Worker.BenignStderrPatterns[:0]
	for _, p := range c.Worker.BenignStderrPatterns {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, p)
		}
	}
	c.Worker.BenignStderrPatterns = patterns
	if c.Worker.ScannerMaxLineBytes <= 0 {
		c.Worker.ScannerMaxLineBytes = defaultScannerMaxLineBytes
	}
	return nil
}

func (c *Config) normalizeDiscovery() error {
	c.Discovery.APIKey = strings.TrimSpace(c.Discovery.APIKey)
	if c.Discovery.APIKey == "" {
		if value, ok := os.LookupEnv("CLAUDE_API_KEY"); ok {
			c.Discovery.APIKey = strings.TrimSpace(value)
		}
	}
	if value, ok := os.LookupEnv("CLAUDE_MODEL"); ok && strings.TrimSpace(value) != "" {
		c.Discovery.Model = strings.TrimSpace(value)
	}
	if strings.TrimSpace(c.Discovery.Model) == "" {
		c.Discovery.Model = defaultClaudeModel
	}
	if strings.TrimSpace(c.Discovery.ModelLight) == "" {
		c.Discovery.ModelLight = defaultClaudeModelLight
	}
	c.Discovery.BaseURL = strings.TrimSpace(c.Discovery.BaseURL)
	if c.Discovery.BaseURL == "" {
		if value, ok := os.LookupEnv("CLAUDE_BASE_URL"); ok {
			c.Discovery.BaseURL = strings.TrimSpace(value)
		}
	}
	if strings.TrimSpace(c.Discovery.Language) == "" {
		c.Discovery.Language = defaultDiscoveryLanguage
	}
	lang, err := language.Normalize(c.Discovery.Language)
	if err != nil {
		return fmt.Errorf("discovery.language: %w", err)
	}
	c.Discovery.Language = lang
	if value, ok := os.LookupEnv("SEEKERS_CACHE_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Discovery.CacheDir = value
	}
	if strings.TrimSpace(c.Discovery.CacheDir) == "" {
		c.Discovery.CacheDir = defaultSeekersCacheDir
	}
	if c.Discovery.CacheDir, err = expandPath(c.Discovery.CacheDir); err != nil {
		return fmt.Errorf("discovery.cache_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeBaseline() error {
	domains := make(map[string]string, len(c.Baseline.Domains))
	for domain, path := range c.Baseline.Domains {
		key := strings.ToLower(strings.TrimSpace(domain))
		if key == "" {
			continue
		}
		expanded, err := expandPath(strings.TrimSpace(path))
		if err != nil {
			return fmt.Errorf("baseline.domains.%s: %w", key, err)
		}
		domains[key] = expanded
	}
	c.Baseline.Domains = domains
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	c.Notifications.NtfyServer = strings.TrimRight(strings.TrimSpace(c.Notifications.NtfyServer), "/")
	if c.Notifications.NtfyServer == "" {
		c.Notifications.NtfyServer = defaultNtfyServer
	}
	c.Notifications.TelegramToken = strings.TrimSpace(c.Notifications.TelegramToken)
	if c.Notifications.TelegramToken == "" {
		if value, ok := os.LookupEnv("TELEGRAM_BOT_TOKEN"); ok {
			c.Notifications.TelegramToken = strings.TrimSpace(value)
		}
	}
	c.Notifications.TelegramChatID = strings.TrimSpace(c.Notifications.TelegramChatID)
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch format {
	case "", "console", "text":
		c.Logging.Format = "console"
	default:
		c.Logging.Format = format
	}
	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
}
